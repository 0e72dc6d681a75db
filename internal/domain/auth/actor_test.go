package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, FromContext(ctx).Authenticated())

	ctx = WithActor(ctx, Actor{UserID: "u1", Role: RoleAdmin})
	got := FromContext(ctx)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.IsAdmin())
}

func TestActor_IsAdmin(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{name: "anonymous with admin role", actor: Actor{Role: RoleAdmin}, want: false},
		{name: "student", actor: Actor{UserID: "u", Role: RoleStudent}, want: false},
		{name: "admin", actor: Actor{UserID: "u", Role: RoleAdmin}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.actor.IsAdmin())
		})
	}
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleStudent.Valid())
	assert.True(t, RoleInstructor.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("root").Valid())
}
