package grpcweb

import (
	"strconv"

	"google.golang.org/grpc/codes"
)

// Status gRPC 终止状态，取值 0-16 对应标准状态码，另有解码失败哨兵
type Status int

const (
	StatusOK                 Status = Status(codes.OK)
	StatusCancelled          Status = Status(codes.Canceled)
	StatusUnknown            Status = Status(codes.Unknown)
	StatusInvalidArgument    Status = Status(codes.InvalidArgument)
	StatusDeadlineExceeded   Status = Status(codes.DeadlineExceeded)
	StatusNotFound           Status = Status(codes.NotFound)
	StatusAlreadyExists      Status = Status(codes.AlreadyExists)
	StatusPermissionDenied   Status = Status(codes.PermissionDenied)
	StatusResourceExhausted  Status = Status(codes.ResourceExhausted)
	StatusFailedPrecondition Status = Status(codes.FailedPrecondition)
	StatusAborted            Status = Status(codes.Aborted)
	StatusOutOfRange         Status = Status(codes.OutOfRange)
	StatusUnimplemented      Status = Status(codes.Unimplemented)
	StatusInternal           Status = Status(codes.Internal)
	StatusUnavailable        Status = Status(codes.Unavailable)
	StatusDataLoss           Status = Status(codes.DataLoss)
	StatusUnauthenticated    Status = Status(codes.Unauthenticated)

	// StatusDecodeFailed 未找到 trailer 或状态码无法识别
	StatusDecodeFailed Status = -1
)

var statusNames = [...]string{
	StatusOK:                 "OK",
	StatusCancelled:          "CANCELLED",
	StatusUnknown:            "UNKNOWN",
	StatusInvalidArgument:    "INVALID_ARGUMENT",
	StatusDeadlineExceeded:   "DEADLINE_EXCEEDED",
	StatusNotFound:           "NOT_FOUND",
	StatusAlreadyExists:      "ALREADY_EXISTS",
	StatusPermissionDenied:   "PERMISSION_DENIED",
	StatusResourceExhausted:  "RESOURCE_EXHAUSTED",
	StatusFailedPrecondition: "FAILED_PRECONDITION",
	StatusAborted:            "ABORTED",
	StatusOutOfRange:         "OUT_OF_RANGE",
	StatusUnimplemented:      "UNIMPLEMENTED",
	StatusInternal:           "INTERNAL",
	StatusUnavailable:        "UNAVAILABLE",
	StatusDataLoss:           "DATA_LOSS",
	StatusUnauthenticated:    "UNAUTHENTICATED",
}

// Lookup 数值到状态的全映射，范围外一律视为解码失败
func Lookup(n int) Status {
	if n < 0 || n >= len(statusNames) {
		return StatusDecodeFailed
	}
	return Status(n)
}

// ParseStatus 解析十进制状态码文本
func ParseStatus(s string) Status {
	n, err := strconv.Atoi(s)
	if err != nil {
		return StatusDecodeFailed
	}
	return Lookup(n)
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "DECODE_FAILED"
	}
	return statusNames[s]
}

// Code 转换为 grpc 状态码，解码失败时 ok 为 false
func (s Status) Code() (codes.Code, bool) {
	if s < 0 || int(s) >= len(statusNames) {
		return codes.Unknown, false
	}
	return codes.Code(s), true
}

// Valid 是否为可识别的状态
func (s Status) Valid() bool {
	_, ok := s.Code()
	return ok
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
