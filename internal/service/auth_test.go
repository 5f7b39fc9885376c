package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sakif/ticket-platform/internal/apperror"
	"github.com/sakif/ticket-platform/internal/auth"
	"github.com/sakif/ticket-platform/internal/events"
	"github.com/sakif/ticket-platform/internal/identity"
	"github.com/sakif/ticket-platform/internal/identity/local"
	"github.com/sakif/ticket-platform/internal/model"
	"github.com/sakif/ticket-platform/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository that enforces the
// same unique constraints as the SQLite directory and counts writes.
type fakeUserRepo struct {
	users   map[string]*model.User // keyed by internal ID
	nextID  int
	creates int
	updates int
	// set to a non-nil error to simulate a database failure
	findErr error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User), nextID: 1}
}

func (f *fakeUserRepo) find(match func(*model.User) bool) (*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUserRepo) FindBySubjectID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, nil
	}
	return f.find(func(u *model.User) bool { return u.SubjectID == id })
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) conflicts(user *model.User) bool {
	for _, u := range f.users {
		if u.ID == user.ID {
			continue
		}
		if u.Email == user.Email || (user.SubjectID != "" && u.SubjectID == user.SubjectID) {
			return true
		}
	}
	return false
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	if f.conflicts(user) {
		return apperror.Conflict("user email", user.Email)
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	f.users[user.ID] = &c
	f.creates++
	return nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	if f.conflicts(user) {
		return apperror.Conflict("user email", user.Email)
	}
	user.UpdatedAt = time.Now()
	c := *user
	f.users[user.ID] = &c
	f.updates++
	return nil
}

func (f *fakeUserRepo) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	out := []model.User{}
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

// recordingPublisher keeps the routing keys it was asked to publish.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// stubProvider wraps another provider and can replace the admin lookup.
type stubProvider struct {
	identity.Provider
	bySubject    func(id string) (*identity.User, error)
	bySubjectHit int
}

func (s *stubProvider) GetUserBySubjectID(ctx context.Context, id string) (*identity.User, error) {
	s.bySubjectHit++
	if s.bySubject != nil {
		return s.bySubject(id)
	}
	return s.Provider.GetUserBySubjectID(ctx, id)
}

type fixture struct {
	svc      *AuthService
	repo     *fakeUserRepo
	provider *local.Provider
	pub      *recordingPublisher
}

func newFixture(t *testing.T, opts ...local.Option) *fixture {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	// Cost 4 is bcrypt minimum and keeps the tests fast
	provider := local.New(tokens, auth.NewPasswordServiceWithCost(4), opts...)

	repo := newFakeUserRepo()
	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &fixture{
		svc:      NewAuthService(repo, provider, pub, logger),
		repo:     repo,
		provider: provider,
		pub:      pub,
	}
}

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister_CreatesUnverifiedUser(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Register(context.Background(), "a@x.com", "pw123456", "Ann")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	u := result.User
	if u.ID == "" || u.Email != "a@x.com" || u.Name != "Ann" {
		t.Errorf("Register() user = %+v", u)
	}
	if u.Role != model.RoleUser {
		t.Errorf("Role = %q, want USER", u.Role)
	}
	if u.IsVerified {
		t.Error("a fresh registration should not be verified")
	}
	if u.SubjectID == "" {
		t.Error("local user should be linked to the provider subject")
	}
	if result.Session != nil {
		t.Error("provider withholds the session until confirmation")
	}
	if len(f.pub.keys) != 1 || f.pub.keys[0] != events.KeyUserRegistered {
		t.Errorf("published %v, want [%s]", f.pub.keys, events.KeyUserRegistered)
	}
}

func TestRegister_TwiceIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "pw123456", "Ann"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, err := f.svc.Register(ctx, "A@x.com ", "other-pass", "Ann again")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Register() error = %v, want ErrConflict", err)
	}
	if f.repo.creates != 1 || len(f.repo.users) != 1 {
		t.Errorf("directory has %d users after %d creates, want exactly 1", len(f.repo.users), f.repo.creates)
	}
}

func TestRegister_ProviderErrorIsSurfaced(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), "a@x.com", "", "Ann")
	if !errors.Is(err, apperror.ErrProvider) {
		t.Fatalf("Register() error = %v, want ErrProvider", err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Message != "Signup requires a valid email and password" {
		t.Errorf("provider message not carried verbatim: %v", err)
	}
	if len(f.repo.users) != 0 {
		t.Error("no local user should be created when the provider refuses")
	}
}

func TestRegister_PublisherFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	if _, err := f.svc.Register(context.Background(), "a@x.com", "pw123456", ""); err != nil {
		t.Fatalf("Register() error = %v, publisher failures must not surface", err)
	}
}

// =========================================================================
// Login TESTS
// =========================================================================

func TestLogin_SyncsVerificationOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw123456", "Ann")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.provider.ConfirmEmail("a@x.com"); err != nil {
		t.Fatalf("ConfirmEmail() error = %v", err)
	}

	result, err := f.svc.Login(ctx, "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.ID != reg.User.ID {
		t.Errorf("Login() user id = %s, want %s", result.User.ID, reg.User.ID)
	}
	if !result.User.IsVerified {
		t.Error("Login() should upgrade is_verified after confirmation")
	}
	if result.Session == nil || result.Session.AccessToken == "" {
		t.Error("Login() should return the provider session")
	}
	stored, _ := f.repo.GetByID(ctx, reg.User.ID)
	if !stored.IsVerified {
		t.Error("is_verified should be persisted")
	}
	if f.repo.updates != 1 {
		t.Errorf("updates = %d, want 1", f.repo.updates)
	}

	if _, err := f.svc.Login(ctx, "a@x.com", "pw123456"); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if f.repo.updates != 1 {
		t.Errorf("a second login should not write again, updates = %d", f.repo.updates)
	}
}

func TestLogin_NoLocalUser(t *testing.T) {
	f := newFixture(t, local.WithAutoConfirm(true))
	ctx := context.Background()

	// Account exists at the provider only.
	if _, err := f.provider.SignUp(ctx, "ghost@x.com", "pw123456", identity.Metadata{}); err != nil {
		t.Fatalf("provider SignUp() error = %v", err)
	}

	_, err := f.svc.Login(ctx, "ghost@x.com", "pw123456")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
	if reason := apperror.ReasonOf(err); reason != apperror.ReasonUserNotFound {
		t.Errorf("reason = %q, want %q", reason, apperror.ReasonUserNotFound)
	}
	if len(f.repo.users) != 0 {
		t.Error("login must not provision local users")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, local.WithAutoConfirm(true))
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "pw123456", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := f.svc.Login(ctx, "a@x.com", "wrong")
	if apperror.ReasonOf(err) != apperror.ReasonInvalidCreds {
		t.Fatalf("Login() error = %v, want invalid credentials", err)
	}
}

func TestLogin_UnconfirmedKeepsProviderMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "pw123456", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := f.svc.Login(ctx, "a@x.com", "pw123456")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Message != "Email not confirmed" {
		t.Errorf("Login() error = %v, want the provider's message", err)
	}
}

// =========================================================================
// GoogleAuth / SyncUserFromProvider TESTS
// =========================================================================

func TestGoogleAuth_ProvisionsThenReuses(t *testing.T) {
	f := newFixture(t, local.WithAutoConfirm(true))
	ctx := context.Background()

	res, err := f.provider.SignUp(ctx, "g@x.com", "pw123456", identity.Metadata{FullName: "Gee", AvatarURL: "https://img/g.png"})
	if err != nil {
		t.Fatalf("provider SignUp() error = %v", err)
	}
	token := res.Session.AccessToken

	first, err := f.svc.GoogleAuth(ctx, token)
	if err != nil {
		t.Fatalf("GoogleAuth() error = %v", err)
	}
	if first.User.Name != "Gee" || first.User.AvatarURL != "https://img/g.png" || !first.User.IsVerified {
		t.Errorf("GoogleAuth() user = %+v", first.User)
	}
	if first.Session.AccessToken != token {
		t.Error("GoogleAuth() should pass the access token back as the session")
	}

	second, err := f.svc.GoogleAuth(ctx, token)
	if err != nil {
		t.Fatalf("second GoogleAuth() error = %v", err)
	}
	if second.User.ID != first.User.ID {
		t.Error("a returning user should not be provisioned again")
	}
	if f.repo.creates != 1 || f.repo.updates != 0 {
		t.Errorf("creates=%d updates=%d, want 1 and 0", f.repo.creates, f.repo.updates)
	}
}

func TestGoogleAuth_MissingToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GoogleAuth(context.Background(), "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("GoogleAuth() error = %v, want ErrValidation", err)
	}
}

func TestSyncUserFromProvider_LinksByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := &model.User{Email: "a@x.com", Role: model.RoleAdmin}
	if err := f.repo.Create(ctx, existing); err != nil {
		t.Fatalf("setup: %v", err)
	}
	now := time.Now()

	user, err := f.svc.SyncUserFromProvider(ctx, &identity.User{ID: "sub-9", Email: "a@x.com", EmailConfirmedAt: &now})
	if err != nil {
		t.Fatalf("SyncUserFromProvider() error = %v", err)
	}
	if user.ID != existing.ID || user.SubjectID != "sub-9" {
		t.Errorf("expected existing user linked to sub-9, got %+v", user)
	}
	if user.Role != model.RoleAdmin {
		t.Error("syncing must not reset the role")
	}
	if !user.IsVerified {
		t.Error("confirmed provider email should verify the local user")
	}
}

func TestSyncUserFromProvider_NeverDowngrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := &model.User{Email: "a@x.com", SubjectID: "sub-1", IsVerified: true}
	if err := f.repo.Create(ctx, existing); err != nil {
		t.Fatalf("setup: %v", err)
	}

	user, err := f.svc.SyncUserFromProvider(ctx, &identity.User{ID: "sub-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("SyncUserFromProvider() error = %v", err)
	}
	if !user.IsVerified {
		t.Error("is_verified must not be downgraded")
	}
	if f.repo.updates != 0 {
		t.Errorf("nothing changed, updates = %d", f.repo.updates)
	}
}

// =========================================================================
// Role / verification TESTS
// =========================================================================

func TestUpdateUserRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, _ := f.svc.Register(ctx, "a@x.com", "pw123456", "")

	user, err := f.svc.UpdateUserRole(ctx, reg.User.ID, "ADMIN_ORGANIZER")
	if err != nil {
		t.Fatalf("UpdateUserRole() error = %v", err)
	}
	if user.Role != model.RoleAdminOrganizer {
		t.Errorf("Role = %q", user.Role)
	}
	if got := f.pub.keys[len(f.pub.keys)-1]; got != events.KeyUserRoleChanged {
		t.Errorf("last event = %s, want %s", got, events.KeyUserRoleChanged)
	}
}

func TestUpdateUserRole_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, _ := f.svc.Register(ctx, "a@x.com", "pw123456", "")

	if _, err := f.svc.UpdateUserRole(ctx, reg.User.ID, "ROOT"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("unknown role error = %v, want ErrValidation", err)
	}
	if _, err := f.svc.UpdateUserRole(ctx, "missing", "ADMIN"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, _ := f.svc.Register(ctx, "a@x.com", "pw123456", "")

	user, err := f.svc.VerifyEmail(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if !user.IsVerified {
		t.Error("VerifyEmail() should set is_verified")
	}
}

func TestSyncEmailVerification_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, _ := f.svc.Register(ctx, "a@x.com", "pw123456", "")
	if err := f.provider.ConfirmEmail("a@x.com"); err != nil {
		t.Fatalf("ConfirmEmail() error = %v", err)
	}

	user, err := f.svc.SyncEmailVerification(ctx, reg.User.SubjectID)
	if err != nil {
		t.Fatalf("SyncEmailVerification() error = %v", err)
	}
	if !user.IsVerified {
		t.Error("first sync should verify the user")
	}
	if f.repo.updates != 1 {
		t.Fatalf("updates after first sync = %d, want 1", f.repo.updates)
	}

	if _, err := f.svc.SyncEmailVerification(ctx, reg.User.SubjectID); err != nil {
		t.Fatalf("second SyncEmailVerification() error = %v", err)
	}
	if f.repo.updates != 1 {
		t.Errorf("second sync wrote again, updates = %d", f.repo.updates)
	}
}

func TestSyncEmailVerification_MissingEitherSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.SyncEmailVerification(ctx, "unknown-subject")
	if err != nil || user != nil {
		t.Errorf("unknown provider user: got %v, %v; want nil, nil", user, err)
	}

	// Provider user without a local record.
	res, _ := f.provider.SignUp(ctx, "p@x.com", "pw123456", identity.Metadata{})
	user, err = f.svc.SyncEmailVerification(ctx, res.User.ID)
	if err != nil || user != nil {
		t.Errorf("unknown local user: got %v, %v; want nil, nil", user, err)
	}
}

func TestSyncEmailVerification_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	stub := &stubProvider{
		Provider: f.provider,
		bySubject: func(string) (*identity.User, error) {
			return nil, identity.ProviderError("get user", 0, "connection refused")
		},
	}
	svc := NewAuthService(f.repo, stub, nil, f.svc.logger)

	_, err := svc.SyncEmailVerification(context.Background(), "sub-1")
	if !errors.Is(err, apperror.ErrProvider) {
		t.Errorf("error = %v, want ErrProvider", err)
	}
	if stub.bySubjectHit != 1 {
		t.Errorf("provider called %d times, want exactly once", stub.bySubjectHit)
	}
}

// =========================================================================
// END TO END
// =========================================================================

func TestRegisterConfirmLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw123456", "Ann")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	users, _ := f.repo.List(ctx, repository.ListOptions{})
	if len(users) != 1 || users[0].Role != model.RoleUser || users[0].IsVerified {
		t.Fatalf("after register directory = %+v", users)
	}

	if err := f.provider.ConfirmEmail("a@x.com"); err != nil {
		t.Fatalf("ConfirmEmail() error = %v", err)
	}

	login, err := f.svc.Login(ctx, "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID || !login.User.IsVerified {
		t.Errorf("Login() user = %+v", login.User)
	}

	if err := f.svc.Logout(ctx, login.Session.AccessToken); err != nil {
		t.Errorf("Logout() error = %v", err)
	}
}
