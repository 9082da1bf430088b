package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/leafsense-cart/internal/domain/kv"
	"github.com/xenking/leafsense-cart/internal/storage/memory"
)

func TestStore_SaveLoadForget(t *testing.T) {
	ctx := context.Background()
	slots := memory.NewStore()
	s := New(slots, nil)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Anonymous())

	want := Identity{
		CustomerID: "42",
		FullName:   "Nguyen Van A",
		Email:      "a@example.com",
		Phone:      "0900000000",
		Address:    "1 Le Loi, HCMC",
	}
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Forget(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Anonymous())
}

func TestStore_SaveRejectsAnonymous(t *testing.T) {
	require.Error(t, New(memory.NewStore(), nil).Save(context.Background(), Identity{Email: "x@y.z"}))
}

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Identity
	}{
		{
			name: "numeric id from web client",
			doc:  `{"id":7,"email":"b@example.com","full_name":"B","role":"customer","phone":null}`,
			want: Identity{CustomerID: "7", Email: "b@example.com", FullName: "B"},
		},
		{
			name: "corrupt document is anonymous",
			doc:  `{"id":`,
		},
		{
			name: "not an object is anonymous",
			doc:  `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			slots := memory.NewStore()
			require.NoError(t, slots.Set(ctx, kv.KeyUser, []byte(tt.doc)))

			got, err := New(slots, nil).Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
