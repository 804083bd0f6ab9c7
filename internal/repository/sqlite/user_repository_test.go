package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"customer-auth/internal/domain"
	"customer-auth/internal/repository"
	"customer-auth/internal/repository/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newUserRepo(t *testing.T) repository.UserRepository {
	t.Helper()
	repo := sqlite.NewUserRepository(openTestDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func seedUser(t *testing.T, repo repository.UserRepository, email, name, first string, active, staff bool, start time.Time) *domain.User {
	t.Helper()
	user := &domain.User{
		Email:        email,
		UserName:     name,
		FirstName:    first,
		PasswordHash: "hash",
		IsActive:     active,
		IsStaff:      staff,
		StartDate:    start,
	}
	_, err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	return user
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()

	user := &domain.User{
		Email:        "ada@example.com",
		UserName:     "ada",
		FirstName:    "Ada",
		About:        "first programmer",
		PasswordHash: "hash",
		IsActive:     true,
	}
	id, err := repo.Create(ctx, user)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.False(t, user.StartDate.IsZero())

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "ada", got.UserName)
	assert.Equal(t, "first programmer", got.About)
	assert.True(t, got.IsActive)
	assert.False(t, got.IsStaff)
	assert.Equal(t, "hash", got.PasswordHash)

	byEmail, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	byName, err := repo.GetByUserName(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	_, err = repo.GetByUserName(ctx, "grace")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepository_InitIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := sqlite.NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	require.NoError(t, repo.Init(context.Background()))
}

func TestUserRepository_Duplicates(t *testing.T) {
	repo := newUserRepo(t)
	now := time.Now()
	seedUser(t, repo, "dup@example.com", "dup", "", true, false, now)

	_, err := repo.Create(context.Background(), &domain.User{Email: "dup@example.com", UserName: "other", PasswordHash: "h"})
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	_, err = repo.Create(context.Background(), &domain.User{Email: "other@example.com", UserName: "dup", PasswordHash: "h"})
	require.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestUserRepository_NotFound(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 42)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Update(ctx, &domain.User{ID: 42, Email: "x@example.com", UserName: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, repo.Delete(ctx, 42), domain.ErrNotFound)
	require.ErrorIs(t, repo.UpdatePassword(ctx, 42, "h"), domain.ErrNotFound)
}

func TestUserRepository_UpdateAndDelete(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()
	user := seedUser(t, repo, "grace@example.com", "grace", "Grace", false, false, time.Now())

	user.FirstName = "Grace B."
	user.IsStaff = true
	user.About = "compilers"
	require.NoError(t, repo.Update(ctx, user))
	require.NoError(t, repo.UpdatePassword(ctx, user.ID, "new-hash"))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace B.", got.FirstName)
	assert.True(t, got.IsStaff)
	assert.Equal(t, "compilers", got.About)
	assert.Equal(t, "new-hash", got.PasswordHash)

	require.NoError(t, repo.Delete(ctx, user.ID))
	_, err = repo.GetByID(ctx, user.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func emails(users []domain.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Email
	}
	return out
}

func TestUserRepository_ListSearchFilterOrder(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedUser(t, repo, "alice@example.com", "alice", "Alice", true, true, base)
	seedUser(t, repo, "bob@example.com", "bobby", "Robert", true, false, base.Add(time.Hour))
	seedUser(t, repo, "carol@sample.org", "carol", "Carol", false, false, base.Add(2*time.Hour))

	all, err := repo.List(ctx, domain.UserQuery{Ordering: []string{"-start_date"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol@sample.org", "bob@example.com", "alice@example.com"}, emails(all))

	search := []string{"email", "user_name", "first_name"}

	got, err := repo.List(ctx, domain.UserQuery{Terms: []string{"EXAMPLE"}, SearchFields: search, Ordering: []string{"email"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, emails(got))

	// every term must match some field
	got, err = repo.List(ctx, domain.UserQuery{Terms: []string{"rob", "bobby"}, SearchFields: search})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.com"}, emails(got))

	got, err = repo.List(ctx, domain.UserQuery{Terms: []string{"rob", "carol"}, SearchFields: search})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.List(ctx, domain.UserQuery{
		Filters:  []domain.UserFilter{{Field: "is_active", Value: true}},
		Ordering: []string{"-start_date"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.com", "alice@example.com"}, emails(got))

	n, err := repo.Count(ctx, domain.UserQuery{Filters: []domain.UserFilter{{Field: "is_staff", Value: false}}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := repo.List(ctx, domain.UserQuery{Ordering: []string{"-start_date"}, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, emails(page))
}

func TestUserRepository_SearchEscapesWildcards(t *testing.T) {
	repo := newUserRepo(t)
	seedUser(t, repo, "plain@example.com", "plain", "", true, false, time.Now())
	seedUser(t, repo, "under_score@example.com", "under", "", true, false, time.Now())

	got, err := repo.List(context.Background(), domain.UserQuery{Terms: []string{"_"}, SearchFields: []string{"email"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"under_score@example.com"}, emails(got))
}

func TestUserRepository_RejectsUnknownFields(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()

	_, err := repo.List(ctx, domain.UserQuery{Ordering: []string{"password_hash"}})
	require.Error(t, err)

	_, err = repo.List(ctx, domain.UserQuery{Filters: []domain.UserFilter{{Field: "1=1; --", Value: 1}}})
	require.Error(t, err)

	_, err = repo.Distinct(ctx, "password_hash")
	require.Error(t, err)
}

func TestUserRepository_Distinct(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "b@example.com", "b", "Same", true, false, time.Now())
	seedUser(t, repo, "a@example.com", "a", "Same", false, false, time.Now())

	names, err := repo.Distinct(ctx, "first_name")
	require.NoError(t, err)
	assert.Equal(t, []any{"Same"}, names)

	flags, err := repo.Distinct(ctx, "is_active")
	require.NoError(t, err)
	assert.Equal(t, []any{false, true}, flags)
}
