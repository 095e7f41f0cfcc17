package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDataErrorNotice_KnownCodes(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		want   string
		notify bool
	}{
		{"重複", DataCodeUniqueViolation, "データは既に存在します。", true},
		{"外部キー", DataCodeForeignKeyViolation, "関連するデータがあるため削除できません。", true},
		{"権限なし", DataCodeInsufficientPriv, "この操作を行う権限がありません。", true},
		{"未検出は通知しない", DataCodeNotFound, "", false},
		{"不正な形式の値は未検出と同じ", DataCodeInvalidText, "", false},
		{"その他はメッセージをそのまま使う", "XX000", "backend exploded", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &DataError{Code: tt.code, Message: "backend exploded"})
			got, ok := DataErrorNotice(err)
			if ok != tt.notify {
				t.Fatalf("ok = %v, want %v", ok, tt.notify)
			}
			if got != tt.want {
				t.Errorf("notice = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataErrorNotice_NonDataError(t *testing.T) {
	got, ok := DataErrorNotice(errors.New("connection refused"))
	if !ok {
		t.Fatal("expected notice for generic error")
	}
	if got != "データベースでエラーが発生しました。" {
		t.Errorf("notice = %q", got)
	}
}

func TestDataErrorCode_Unwraps(t *testing.T) {
	err := fmt.Errorf("insert bookmark: %w", &DataError{Code: DataCodeUniqueViolation})
	if got := DataErrorCode(err); got != DataCodeUniqueViolation {
		t.Errorf("DataErrorCode = %q, want %q", got, DataCodeUniqueViolation)
	}
	if got := DataErrorCode(errors.New("plain")); got != "" {
		t.Errorf("DataErrorCode(plain) = %q, want empty", got)
	}
}

func TestAuthErrorNotice_SubstringMatch(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("auth: Invalid login credentials"), "メールアドレスまたはパスワードが正しくありません。"},
		{errors.New("User already registered"), "このメールアドレスは既に登録されています。"},
		{fmt.Errorf("sign in: %w", errors.New("Email not confirmed")), "ログインする前にメールアドレスの確認を完了してください。"},
		{errors.New("something else"), "認証中にエラーが発生しました。"},
	}

	for _, tt := range tests {
		if got := AuthErrorNotice(tt.err); got != tt.want {
			t.Errorf("AuthErrorNotice(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAuthErrorNotice_APIErrorUsesMessage(t *testing.T) {
	err := NewValidationError("パスワードは6文字以上で入力してください。")
	if got := AuthErrorNotice(err); got != err.Message {
		t.Errorf("AuthErrorNotice = %q, want %q", got, err.Message)
	}
}

func TestValidateRequired_ListsEmptyFields(t *testing.T) {
	err := ValidateRequired(
		RequiredField{Label: "章番号", Value: "1"},
		RequiredField{Label: "タイトル", Value: "  "},
		RequiredField{Label: "本文", Value: ""},
	)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != ErrCodeValidation {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeValidation)
	}
	if !strings.Contains(apiErr.Message, "タイトル、本文") {
		t.Errorf("Message = %q, want it to list empty fields", apiErr.Message)
	}
	if strings.Contains(apiErr.Message, "章番号") {
		t.Errorf("Message = %q, should not list filled field", apiErr.Message)
	}
}

func TestValidateRequired_AllFilled(t *testing.T) {
	if err := ValidateRequired(RequiredField{Label: "タイトル", Value: "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
