package auth

import (
	"errors"
	"testing"
	"time"
)

func testManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(&JWTConfig{
		Secret: "test-secret",
		Expiry: expiry,
		Issuer: "lectura-test",
	})
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	m := testManager(time.Hour)

	token, err := m.GenerateToken(42, "Biology 101")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.CourseID != 42 {
		t.Errorf("expected course ID 42, got %d", claims.CourseID)
	}
	if claims.CourseName != "Biology 101" {
		t.Errorf("expected course name 'Biology 101', got %s", claims.CourseName)
	}
	if claims.Issuer != "lectura-test" {
		t.Errorf("unexpected issuer %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	m := testManager(-time.Minute)

	token, err := m.GenerateToken(1, "Expired")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWTManager_WrongSecret(t *testing.T) {
	m := testManager(time.Hour)
	token, err := m.GenerateToken(1, "Course")
	if err != nil {
		t.Fatal(err)
	}

	other := NewJWTManager(&JWTConfig{Secret: "different-secret", Expiry: time.Hour})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_GarbageToken(t *testing.T) {
	m := testManager(time.Hour)
	if _, err := m.ValidateToken("not.a.token"); err == nil {
		t.Error("expected error for garbage token")
	}
}

func TestJWTManager_RefreshExpiredToken(t *testing.T) {
	expired := testManager(-time.Minute)
	token, err := expired.GenerateToken(7, "Chemistry")
	if err != nil {
		t.Fatal(err)
	}

	fresh := testManager(time.Hour)
	refreshed, err := fresh.RefreshToken(token)
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}

	claims, err := fresh.ValidateToken(refreshed)
	if err != nil {
		t.Fatalf("refreshed token invalid: %v", err)
	}
	if claims.CourseID != 7 {
		t.Errorf("expected course ID 7, got %d", claims.CourseID)
	}
}
