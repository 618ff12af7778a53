package upload

import (
	"errors"
	"fmt"
)

// バッチ・エンコードのエラー
var (
	ErrMissingViews = errors.New("missing views")
	ErrEmptyImage   = errors.New("image has no data")
)

// TransportError は応答を得られなかった送信失敗
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError はサーバーが2xx以外を返した失敗
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upload rejected (%d): %s", e.Status, e.Message)
}
