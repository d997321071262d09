// Package sanitize 提供模型输出 JSON 的修复与解码。
// 模型偶尔会在字符串值里输出未转义的原始控制字符（最常见是换行），
// 严格解析会直接失败，这里在解码前把它们替换成标准转义。
package sanitize

import (
	"encoding/json"
	"fmt"

	apperrors "storyforge-ai-api/pkg/errors"
)

// EscapeControlChars 单趟左到右扫描，把字符串值内 0x20 以下的
// 原始控制字符替换成标准转义。字符串外的内容逐字节复制，
// 已转义的序列不会被二次转义，对合法 JSON 输出与输入逐字节一致。
func EscapeControlChars(raw string) string {
	var out []byte
	inString := false
	escapeNext := false

	for i := 0; i < len(raw); i++ {
		ch := raw[i]

		switch {
		case escapeNext:
			out = append(out, ch)
			escapeNext = false
		case ch == '\\':
			out = append(out, ch)
			escapeNext = true
		case ch == '"':
			out = append(out, ch)
			inString = !inString
		case inString && ch < 0x20:
			switch ch {
			case '\n':
				out = append(out, '\\', 'n')
			case '\r':
				out = append(out, '\\', 'r')
			case '\t':
				out = append(out, '\\', 't')
			default:
				out = append(out, []byte(fmt.Sprintf(`\u%04x`, ch))...)
			}
		default:
			out = append(out, ch)
		}
	}

	return string(out)
}

// Decode 解码模型输出的 JSON：先严格解析，失败后修复再解析一次。
// 两次都失败时返回携带原文的错误，绝不部分解码或猜测。
func Decode(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	sanitized := EscapeControlChars(raw)
	if err := json.Unmarshal([]byte(sanitized), v); err != nil {
		// 原文保留在 Detail 里，便于事后排查
		return apperrors.New(apperrors.CodeMalformedOutput, "model output is not valid JSON even after sanitization").
			WithError(err).
			WithDetail(raw)
	}
	return nil
}
