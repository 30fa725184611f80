package entity

import (
	"errors"
	"fmt"
)

var (
	// 同じIDのインシデントが既に存在する。呼び出し側は再送として扱う
	ErrDuplicateIncident = errors.New("duplicate incident")
	// どのリソースパターンにも一致しなかった
	ErrUnrecognizedEvent = errors.New("unrecognized event")
	// リトライを使い切っても分類できなかった
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// 復旧パイプラインを起動できなかった
	ErrDispatch = errors.New("dispatch failed")
	// 条件付き書き込みの失敗以外のストレージ障害
	ErrStoreUnavailable = errors.New("store unavailable")
	// 外部サービスの応答がスキーマに合わない
	ErrMalformedResponse = errors.New("malformed response")
	// イベントとしてデコードできない入力
	ErrInvalidEvent      = errors.New("invalid event")
	ErrIllegalTransition = errors.New("illegal workflow transition")
	ErrIncidentNotFound  = errors.New("incident not found")
	// 読み取り後にベースラインが更新されていた
	ErrBaselineConflict = errors.New("baseline conflict")
	ErrImmutableField   = errors.New("field already set")
)

// デコードに失敗した分類器の生出力を保持する
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedResponse, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedResponse
}
