package grpcweb

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/url"
	"strings"
)

const (
	frameHeaderLen = 5

	flagCompressed byte = 0x01
	flagTrailer    byte = 0x80
)

// ErrTruncatedFrame 帧长度超出剩余数据
var ErrTruncatedFrame = errors.New("grpc-web: truncated frame")

// Frame 一个长度前缀帧
type Frame struct {
	Flag    byte
	Payload []byte
}

func (f Frame) IsTrailer() bool    { return f.Flag&flagTrailer != 0 }
func (f Frame) IsCompressed() bool { return f.Flag&flagCompressed != 0 }

// ParseFrames 按 1 字节标志 + 4 字节大端长度切分帧
func ParseFrames(body []byte) ([]Frame, error) {
	var frames []Frame
	for len(body) > 0 {
		if len(body) < frameHeaderLen {
			return frames, ErrTruncatedFrame
		}
		n := binary.BigEndian.Uint32(body[1:frameHeaderLen])
		if uint64(n) > uint64(len(body)-frameHeaderLen) {
			return frames, ErrTruncatedFrame
		}
		end := frameHeaderLen + int(n)
		frames = append(frames, Frame{Flag: body[0], Payload: body[frameHeaderLen:end]})
		body = body[end:]
	}
	return frames, nil
}

// Trailer trailer 帧中的元数据，键为小写
type Trailer map[string]string

// ParseTrailer 解析 "name:value\r\n" 形式的 trailer
func ParseTrailer(payload []byte) Trailer {
	t := Trailer{}
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimRight(line, "\r")
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		t[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return t
}

// Status trailer 中的 grpc-status，缺失时为解码失败
func (t Trailer) Status() Status {
	v, ok := t["grpc-status"]
	if !ok {
		return StatusDecodeFailed
	}
	return ParseStatus(v)
}

// Message 百分号解码后的 grpc-message
func (t Trailer) Message() string {
	v := t["grpc-message"]
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}

// IsText content-type 是否为 base64 文本变体
func IsText(contentType string) bool {
	return strings.HasPrefix(contentType, "application/grpc-web-text")
}

// DecodeBody 优先按帧结构解码，帧结构不成立时退回文本解码
func DecodeBody(contentType string, body []byte) Decoded {
	if d, ok := DecodeFrames(contentType, body); ok {
		return d
	}
	return Decode(string(unwrapText(contentType, body)))
}

// DecodeFrames 按长度前缀帧解码，body 不是带 trailer 的完整帧序列时 ok 为 false
//
// Text 为未压缩数据帧的原始字节，不做帧残留字符清理。压缩数据帧被跳过并置 Compressed。
func DecodeFrames(contentType string, body []byte) (Decoded, bool) {
	frames, err := ParseFrames(unwrapText(contentType, body))
	if err != nil {
		return Decoded{}, false
	}
	var (
		data       bytes.Buffer
		trailer    Trailer
		compressed bool
	)
	for _, f := range frames {
		switch {
		case f.IsTrailer():
			trailer = ParseTrailer(f.Payload)
		case f.IsCompressed():
			compressed = true
		default:
			data.Write(f.Payload)
		}
	}
	if trailer == nil {
		return Decoded{}, false
	}
	return Decoded{Text: data.String(), Status: trailer.Status(), Compressed: compressed}, true
}

// unwrapText grpc-web-text 先还原 base64，失败时按原样处理
func unwrapText(contentType string, body []byte) []byte {
	if IsText(contentType) {
		if b, err := decodeBase64Chunks(body); err == nil {
			return b
		}
	}
	return body
}

// decodeBase64Chunks grpc-web-text 允许多段各自带填充的 base64 拼接
func decodeBase64Chunks(body []byte) ([]byte, error) {
	s := strings.TrimSpace(string(body))
	var out []byte
	for len(s) > 0 {
		end := strings.IndexByte(s, '=')
		if end < 0 {
			end = len(s)
		} else {
			for end < len(s) && s[end] == '=' {
				end++
			}
		}
		b, err := base64.StdEncoding.DecodeString(s[:end])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		s = s[end:]
	}
	return out, nil
}
