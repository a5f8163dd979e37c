package errors

import (
	"testing"
)

func TestNewCode(t *testing.T) {
	validCodes := []string{
		"catalog.table_not_found",
		"catalog.commit_conflict",
		"config.invalid",
		"catalog.hive.pointer_missing",
		"storage.write_failed",
	}

	for _, codeStr := range validCodes {
		code, err := NewCode(codeStr)
		if err != nil {
			t.Errorf("Expected valid code '%s' to succeed, got error: %v", codeStr, err)
		}
		if code.String() != codeStr {
			t.Errorf("Expected code string '%s', got '%s'", codeStr, code.String())
		}
	}

	invalidCodes := []string{
		"invalid",                  // No dot
		"catalog.",                 // Ends with dot
		".table_not_found",         // Starts with dot
		"Catalog.table_not_found",  // Uppercase
		"catalog.table-not-found",  // Hyphens not allowed
		"catalog..table_not_found", // Double dot
		"error.table_not_found",    // Contains "error"
		"catalog.err_missing",      // Contains "err"
	}

	for _, codeStr := range invalidCodes {
		_, err := NewCode(codeStr)
		if err == nil {
			t.Errorf("Expected invalid code '%s' to fail, but it succeeded", codeStr)
		}
	}
}

func TestMustNewCode(t *testing.T) {
	code := MustNewCode("catalog.table_not_found")
	if code.String() != "catalog.table_not_found" {
		t.Errorf("Expected code 'catalog.table_not_found', got '%s'", code.String())
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected MustNewCode to panic with invalid code")
		}
	}()
	MustNewCode("invalid")
}

func TestCodeEquals(t *testing.T) {
	code1 := MustNewCode("catalog.table_not_found")
	code2 := MustNewCode("catalog.table_not_found")
	code3 := MustNewCode("catalog.commit_conflict")

	if !code1.Equals(code2) {
		t.Error("Expected identical codes to be equal")
	}
	if code1.Equals(code3) {
		t.Error("Expected different codes to not be equal")
	}
}
