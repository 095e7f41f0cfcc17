package model

import (
	"errors"
	"fmt"
	"strings"
)

// バックエンドのエラーコード（PostgreSQLのSQLSTATE）。
const (
	DataCodeUniqueViolation     = "23505"
	DataCodeForeignKeyViolation = "23503"
	DataCodeInsufficientPriv    = "42501"
	DataCodeUndefinedTable      = "42P01"
	DataCodeInvalidText         = "22P02" // 型に合わない値（不正な形式のIDなど）
	DataCodeNotFound            = "NOT_FOUND"
)

// DataError はデータサービスが返すエラーを表す。
// Codeにはバックエンド定義のエラーコードが入る。
type DataError struct {
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *DataError) Error() string {
	return fmt.Sprintf("data error %s: %s", e.Code, e.Message)
}

// Unwrap は元のドライバエラーを返す。
func (e *DataError) Unwrap() error {
	return e.Err
}

// DataErrorCode はerrのチェーンからDataErrorのコードを取り出す。
// DataErrorを含まない場合は空文字列を返す。
func DataErrorCode(err error) string {
	var de *DataError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// DataErrorNotice はデータエラーを利用者向けの通知文言に変換する。
// 戻り値のokがfalseの場合は通知不要（未検出は空の結果として扱う）。
func DataErrorNotice(err error) (notice string, ok bool) {
	var de *DataError
	if !errors.As(err, &de) {
		return "データベースでエラーが発生しました。", true
	}

	switch de.Code {
	case DataCodeNotFound, DataCodeInvalidText:
		return "", false
	case DataCodeUniqueViolation:
		return "データは既に存在します。", true
	case DataCodeForeignKeyViolation:
		return "関連するデータがあるため削除できません。", true
	case DataCodeInsufficientPriv:
		return "この操作を行う権限がありません。", true
	case DataCodeUndefinedTable:
		return "この機能は現在利用できません。", true
	default:
		if de.Message != "" {
			return de.Message, true
		}
		return "データベースでエラーが発生しました。", true
	}
}

// 認証サービスが返すエラーメッセージ。
const (
	AuthMsgInvalidCredentials = "Invalid login credentials"
	AuthMsgAlreadyRegistered  = "User already registered"
	AuthMsgEmailNotConfirmed  = "Email not confirmed"
)

// AuthErrorNotice は認証エラーをメッセージの部分一致で利用者向け文言に変換する。
func AuthErrorNotice(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, AuthMsgInvalidCredentials):
		return "メールアドレスまたはパスワードが正しくありません。"
	case strings.Contains(msg, AuthMsgAlreadyRegistered):
		return "このメールアドレスは既に登録されています。"
	case strings.Contains(msg, AuthMsgEmailNotConfirmed):
		return "ログインする前にメールアドレスの確認を完了してください。"
	default:
		return "認証中にエラーが発生しました。"
	}
}

// RequiredField は必須チェック対象の項目。
type RequiredField struct {
	Label string
	Value string
}

// ValidateRequired は空の項目を列挙し、1件でもあればAPIErrorを返す。
// 空白のみの値も未入力とみなす。
func ValidateRequired(fields ...RequiredField) error {
	var empty []string
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			empty = append(empty, f.Label)
		}
	}
	if len(empty) > 0 {
		return NewRequiredFieldsError(empty)
	}
	return nil
}
