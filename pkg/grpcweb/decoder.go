// Package grpcweb 从浏览器拿到的 gRPC-Web 响应中恢复终止状态与文本载荷。
package grpcweb

import (
	"errors"
	"regexp"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"google.golang.org/grpc/status"
)

// ErrDecodeFailed 响应中没有可识别的 grpc-status
var ErrDecodeFailed = errors.New("grpc-web: no recognizable grpc-status trailer")

var (
	statusRunRe   = regexp.MustCompile(`(?i)grpc-status.*`)
	statusValueRe = regexp.MustCompile(`(?i)^grpc-status:\s*(\d+)`)
)

// Decoded 解码结果
type Decoded struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
	// Compressed 帧解码时跳过了压缩数据帧
	Compressed bool `json:"compressed,omitempty"`
	// Framed 按帧结构解码的结果，响应体不是帧序列时为空
	Framed *Decoded `json:"framed,omitempty"`
}

// Err 将结果转换为错误：OK 返回 nil，哨兵返回 ErrDecodeFailed，其余为 grpc status 错误
func (d Decoded) Err() error {
	code, ok := d.Status.Code()
	if !ok {
		return ErrDecodeFailed
	}
	if d.Status == StatusOK {
		return nil
	}
	return status.Error(code, d.Text)
}

// isFrameArtifact 帧边界在文本中留下的 Latin-1 补充区字符
func isFrameArtifact(r rune) bool {
	switch {
	case r >= 0x00C0 && r <= 0x00D6:
		return true
	case r >= 0x00D8 && r <= 0x00F6:
		return true
	case r >= 0x00F8 && r <= 0x00FF:
		return true
	}
	return false
}

// Clean 移除帧边界残留字符
func Clean(raw string) string {
	out, _, err := transform.String(runes.Remove(runes.Predicate(isFrameArtifact)), raw)
	if err != nil {
		return raw
	}
	return out
}

// Decode 从响应文本中提取 grpc-status 并返回去掉状态段后的文本
//
// 纯函数，输入相同输出相同。找不到状态段或状态码不可识别时返回 StatusDecodeFailed。
func Decode(raw string) Decoded {
	cleaned := Clean(raw)
	loc := statusRunRe.FindStringIndex(cleaned)
	if loc == nil {
		return Decoded{Text: cleaned, Status: StatusDecodeFailed}
	}
	run := cleaned[loc[0]:loc[1]]
	st := StatusDecodeFailed
	if m := statusValueRe.FindStringSubmatch(run); m != nil {
		st = ParseStatus(m[1])
	}
	return Decoded{Text: cleaned[:loc[0]] + cleaned[loc[1]:], Status: st}
}
