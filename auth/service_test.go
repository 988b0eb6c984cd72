package auth

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	accounts map[string]Account
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: make(map[string]Account)}
}

func (f *fakeRepo) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	f.nextID++
	a := Account{
		PartyID:      "party-" + strconv.Itoa(f.nextID),
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
	}
	f.accounts[a.Email] = a
	return a, nil
}

func (f *fakeRepo) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	a, ok := f.accounts[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeRepo) GetAccountByID(ctx context.Context, partyID string) (Account, error) {
	for _, a := range f.accounts {
		if a.PartyID == partyID {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (f *fakeRepo) DeleteAccount(ctx context.Context, partyID string) error {
	for email, a := range f.accounts {
		if a.PartyID == partyID {
			delete(f.accounts, email)
			return nil
		}
	}
	return ErrAccountNotFound
}

func TestRegisterHashesPassword(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "test-secret")

	account, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.PasswordHash == "hunter2hunter2" {
		t.Fatalf("expected password to be hashed, stored verbatim")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("hunter2hunter2")); err != nil {
		t.Errorf("expected stored hash to verify the password: %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := NewService(newFakeRepo(), "test-secret")
	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "short",
		DisplayName: "Alice",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegisterRequiresEmailAndName(t *testing.T) {
	svc := NewService(newFakeRepo(), "test-secret")
	_, err := svc.Register(context.Background(), RegisterRequest{Password: "longenough"})
	if err == nil {
		t.Fatalf("expected missing fields to be rejected")
	}
}

func TestLoginAndVerifyToken(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "test-secret")

	account, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := svc.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Account.PartyID != account.PartyID {
		t.Errorf("expected login to return the registered account")
	}

	partyID, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if partyID != account.PartyID {
		t.Errorf("expected token to name party %s, got %s", account.PartyID, partyID)
	}
}

func TestAccountLookupAndDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "test-secret")

	account, err := svc.Register(context.Background(), RegisterRequest{
		Email: "alice@example.com", Password: "hunter2hunter2", DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := svc.Account(context.Background(), account.PartyID)
	if err != nil {
		t.Fatalf("account lookup: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("expected lookup to return the registered account, got %+v", got)
	}

	if err := svc.DeleteAccount(context.Background(), account.PartyID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := svc.Account(context.Background(), account.PartyID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected deleted account to be gone, got %v", err)
	}
	if err := svc.DeleteAccount(context.Background(), account.PartyID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected second delete to report not found, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "test-secret")
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "alice@example.com", Password: "hunter2hunter2", DisplayName: "Alice",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(context.Background(), LoginRequest{
		Email: "alice@example.com", Password: "wrong-password",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := NewService(newFakeRepo(), "test-secret")
	_, err := svc.Login(context.Background(), LoginRequest{
		Email: "nobody@example.com", Password: "whatever1",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestVerifyTokenRejectsForgedToken(t *testing.T) {
	svc := NewService(newFakeRepo(), "test-secret")
	other := NewService(newFakeRepo(), "other-secret")

	token, err := other.generateToken("party-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.VerifyToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
	if _, err := svc.VerifyToken("not-a-token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}
