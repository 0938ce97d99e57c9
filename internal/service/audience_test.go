package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsUnionOfInterests(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.user(2, "bob", 20)
	f.user(3, "cid", 30)

	got, err := f.audience.Resolve(context.Background(), []int64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestResolveCountsUsersOnce(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10, 20)

	got, err := f.audience.Resolve(context.Background(), []int64{10, 20, 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)
}

func TestResolveSkipsInactiveSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.store.AddProfile(2, "bob")
	f.store.Subscribe(2, 10, false)

	got, err := f.audience.Resolve(context.Background(), []int64{10})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)
}

func TestResolveEmptyInterestsIsEmptyAudience(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)

	got, err := f.audience.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	users, err := f.audience.TargetUsers(context.Background(), []int64{})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTargetUsersOrderedByName(t *testing.T) {
	f := newFixture(t)
	f.user(1, "zed", 10)
	f.user(2, "amy", 10)
	f.user(3, "max", 20)

	users, err := f.audience.TargetUsers(context.Background(), []int64{10, 20})
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "amy", users[0].Name)
	assert.Equal(t, "max", users[1].Name)
	assert.Equal(t, "zed", users[2].Name)
}
