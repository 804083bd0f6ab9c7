package users

import (
	"context"

	"customer-auth/internal/admin"
	"customer-auth/internal/domain"
	"customer-auth/internal/service"
)

// Backend serves user records to the admin site through the user service.
type Backend struct {
	users service.UserService
}

func NewBackend(users service.UserService) *Backend {
	return &Backend{users: users}
}

func (b *Backend) Query(ctx context.Context, q admin.Query) ([]admin.Record, error) {
	users, err := b.users.List(ctx, toUserQuery(q))
	if err != nil {
		return nil, err
	}
	records := make([]admin.Record, len(users))
	for i := range users {
		records[i] = toRecord(&users[i])
	}
	return records, nil
}

func (b *Backend) Count(ctx context.Context, q admin.Query) (int, error) {
	return b.users.Count(ctx, toUserQuery(q))
}

func (b *Backend) Distinct(ctx context.Context, field string) ([]any, error) {
	return b.users.Distinct(ctx, field)
}

func (b *Backend) Get(ctx context.Context, id int64) (admin.Record, error) {
	user, err := b.users.GetByID(ctx, id)
	if err != nil {
		return admin.Record{}, err
	}
	return toRecord(user), nil
}

func (b *Backend) Create(ctx context.Context, values admin.Values) (admin.Record, error) {
	user, err := b.users.Create(ctx, service.CreateUserInput{
		Email:     str(values, "email"),
		UserName:  str(values, "user_name"),
		FirstName: str(values, "first_name"),
		About:     str(values, "about"),
		Password1: str(values, "password1"),
		Password2: str(values, "password2"),
		IsActive:  flag(values, "is_active"),
		IsStaff:   flag(values, "is_staff"),
	})
	if err != nil {
		return admin.Record{}, err
	}
	return toRecord(user), nil
}

func (b *Backend) Update(ctx context.Context, id int64, values admin.Values) (admin.Record, error) {
	user, err := b.users.Update(ctx, id, service.UpdateUserInput{
		Email:     str(values, "email"),
		UserName:  str(values, "user_name"),
		FirstName: str(values, "first_name"),
		About:     str(values, "about"),
		IsActive:  flag(values, "is_active"),
		IsStaff:   flag(values, "is_staff"),
	})
	if err != nil {
		return admin.Record{}, err
	}
	return toRecord(user), nil
}

func (b *Backend) Delete(ctx context.Context, id int64) error {
	return b.users.Delete(ctx, id)
}

var _ admin.Backend = (*Backend)(nil)

func toUserQuery(q admin.Query) domain.UserQuery {
	filters := make([]domain.UserFilter, len(q.Filters))
	for i, f := range q.Filters {
		filters[i] = domain.UserFilter{Field: f.Field, Value: f.Value}
	}
	return domain.UserQuery{
		Terms:        q.Terms,
		SearchFields: q.SearchFields,
		Filters:      filters,
		Ordering:     q.Ordering,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}
}

func toRecord(user *domain.User) admin.Record {
	return admin.Record{
		ID: user.ID,
		Values: admin.Values{
			"email":      user.Email,
			"user_name":  user.UserName,
			"first_name": user.FirstName,
			"about":      user.About,
			"is_active":  user.IsActive,
			"is_staff":   user.IsStaff,
			"start_date": user.StartDate,
		},
	}
}

func str(values admin.Values, key string) string {
	s, _ := values[key].(string)
	return s
}

func flag(values admin.Values, key string) bool {
	b, _ := values[key].(bool)
	return b
}
