package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*models.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return errors.ErrNotFound
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.Profile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[uuid.UUID]*models.Profile{}}
}

func (f *fakeProfileRepo) Create(ctx context.Context, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.UserID] = profile
	return nil
}

func (f *fakeProfileRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return profile, nil
}

func (f *fakeProfileRepo) Update(ctx context.Context, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.UserID] = profile
	return nil
}

func newAuthFixture(t *testing.T) (AuthService, *fakeUserRepo, *fakeProfileRepo, *fakePlanRepo) {
	t.Helper()
	users := newFakeUserRepo()
	profiles := newFakeProfileRepo()
	plans := newFakePlanRepo()
	seedPlan(t, plans, models.DefaultPlanName, 5, 24)

	// MinCost keeps the hashing rounds cheap in tests
	svc := NewAuthService(users, profiles, NewPlanService(plans, nil), "test-secret", time.Hour, 4)
	return svc, users, profiles, plans
}

func TestRegisterAssignsDefaultPlanAndProfile(t *testing.T) {
	svc, _, profiles, _ := newAuthFixture(t)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsStaff)
	assert.False(t, user.IsSuperuser)
	require.NotNil(t, user.Plan)
	assert.Equal(t, models.DefaultPlanName, user.Plan.Name)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	profile, err := profiles.GetByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "en", profile.Language)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"same email", RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "s3cret"}},
		{"same username", RegisterInput{Username: "alice", Email: "other@example.com", Password: "s3cret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, errors.ErrAlreadyExists)
		})
	}
}

func TestRegisterFailsWithoutDefaultPlan(t *testing.T) {
	users := newFakeUserRepo()
	profiles := newFakeProfileRepo()
	plans := newFakePlanRepo() // no Free plan seeded

	svc := NewAuthService(users, profiles, NewPlanService(plans, nil), "test-secret", time.Hour, 4)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	assert.Error(t, err)
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, users, _, _ := newAuthFixture(t)

	registered, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	token, err := svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verified, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, verified.ID)
	assert.Equal(t, "alice@example.com", verified.Email)

	// Login stamps last_login
	stored, err := users.GetByID(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = svc.SetUserActive(context.Background(), user.ID, false)
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "alice@example.com", "s3cret")
	assert.ErrorIs(t, err, errors.ErrInactiveUser)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsForeignSignature(t *testing.T) {
	svc, _, profiles, plans := newAuthFixture(t)

	registered, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	other := NewAuthService(newFakeUserRepo(), profiles, NewPlanService(plans, nil), "other-secret", time.Hour, 4)
	token, err := other.CreateToken(registered)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, "wrong", "newpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, "s3cret", "newpass"))

	_, err = svc.Login(context.Background(), "alice@example.com", "newpass")
	assert.NoError(t, err)
}

func TestChangeUserPlanSwitchesPlan(t *testing.T) {
	svc, _, _, plans := newAuthFixture(t)
	pro := seedPlan(t, plans, "Pro", 100, 24)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	require.NoError(t, err)

	updated, err := svc.ChangeUserPlan(context.Background(), user.ID, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, updated.PlanID)
	require.NotNil(t, updated.Plan)
	assert.Equal(t, "Pro", updated.Plan.Name)
}

func TestUserContextRoundTrip(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "alice@example.com"}

	ctx := WithUserContext(context.Background(), user)
	got, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, user.ID, got.ID)

	_, ok = UserFromContext(context.Background())
	assert.False(t, ok)
}
