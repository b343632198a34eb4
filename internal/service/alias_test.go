package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/storage/memory"
)

func newAliasFixture(t *testing.T) (*AliasService, *memory.Store, *fakeProvisioner) {
	t.Helper()
	store := memory.NewStore()
	provisioner := &fakeProvisioner{}
	svc := NewAliasService(store, provisioner, newTestConfig(), testMetrics, zap.NewNop())

	require.NoError(t, store.SaveOwner(&domain.Owner{
		OwnerRef:  "10001",
		Status:    domain.OwnerStatusActive,
		CreatedAt: time.Now().UTC(),
	}))
	return svc, store, provisioner
}

func TestProvisionCreatesRouteThenAlias(t *testing.T) {
	svc, store, provisioner := newAliasFixture(t)

	alias, err := svc.Provision(context.Background(), "10001", "bot1", "mailecho_bot")
	require.NoError(t, err)

	assert.Len(t, alias.AliasID, 8)
	for _, r := range alias.AliasID {
		assert.Contains(t, aliasCharset, string(r))
	}
	assert.Equal(t, alias.AliasID+"@example.com", alias.Address)
	assert.Equal(t, domain.AliasStatusActive, alias.Status)
	assert.Equal(t, "bot1", alias.BotID)
	assert.Equal(t, []string{alias.Address}, provisioner.created)

	stored, err := store.GetAlias(alias.AliasID)
	require.NoError(t, err)
	assert.Equal(t, "10001", stored.OwnerRef)
	assert.Equal(t, "route-"+alias.Address, stored.RoutingRef)
}

func TestProvisionUnknownOwner(t *testing.T) {
	svc, _, provisioner := newAliasFixture(t)

	_, err := svc.Provision(context.Background(), "99999", "bot1", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	assert.Empty(t, provisioner.created)
}

func TestProvisionRouteFailureLeavesNoAlias(t *testing.T) {
	svc, store, provisioner := newAliasFixture(t)
	provisioner.createErr = errors.New("routing api down")

	_, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.Error(t, err)

	aliases, err := store.ListAliasesByOwner("10001")
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestProvisionPersistFailureUndoesRoute(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveOwner(&domain.Owner{
		OwnerRef: "10001", Status: domain.OwnerStatusActive, CreatedAt: time.Now().UTC(),
	}))

	provisioner := &fakeProvisioner{}
	flaky := &aliasFlakyStore{Store: store, saveAliasErr: errors.New("db down")}
	svc := NewAliasService(flaky, provisioner, newTestConfig(), testMetrics, zap.NewNop())

	_, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.Error(t, err)
	require.Len(t, provisioner.created, 1)
	assert.Equal(t, []string{"route-" + provisioner.created[0]}, provisioner.disabled)
}

type aliasFlakyStore struct {
	storage.Store
	saveAliasErr error
}

func (f *aliasFlakyStore) SaveAlias(alias *domain.Alias) error {
	if f.saveAliasErr != nil {
		return f.saveAliasErr
	}
	return f.Store.SaveAlias(alias)
}

func TestDisableAlias(t *testing.T) {
	svc, store, provisioner := newAliasFixture(t)

	alias, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.NoError(t, err)

	disabled, err := svc.Disable(context.Background(), alias.AliasID, "10001")
	require.NoError(t, err)
	assert.Equal(t, domain.AliasStatusDisabled, disabled.Status)
	require.NotNil(t, disabled.DisabledAt)
	assert.Equal(t, []string{alias.RoutingRef}, provisioner.disabled)

	stored, err := store.GetAlias(alias.AliasID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())
}

func TestDisableAliasIdempotent(t *testing.T) {
	svc, _, provisioner := newAliasFixture(t)

	alias, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.NoError(t, err)

	_, err = svc.Disable(context.Background(), alias.AliasID, "10001")
	require.NoError(t, err)
	again, err := svc.Disable(context.Background(), alias.AliasID, "10001")
	require.NoError(t, err)
	assert.Equal(t, domain.AliasStatusDisabled, again.Status)

	// 第二次停用不再触路由层
	assert.Len(t, provisioner.disabled, 1)
}

func TestDisableAliasNotOwner(t *testing.T) {
	svc, _, _ := newAliasFixture(t)

	alias, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.NoError(t, err)

	_, err = svc.Disable(context.Background(), alias.AliasID, "20002")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestDisableAliasNotFound(t *testing.T) {
	svc, _, _ := newAliasFixture(t)

	_, err := svc.Disable(context.Background(), "nosuch99", "10001")
	assert.ErrorIs(t, err, storage.ErrAliasNotFound)
}

func TestListAliases(t *testing.T) {
	svc, _, _ := newAliasFixture(t)

	first, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.NoError(t, err)
	second, err := svc.Provision(context.Background(), "10001", "bot1", "b")
	require.NoError(t, err)
	assert.NotEqual(t, first.AliasID, second.AliasID)

	aliases, err := svc.List("10001")
	require.NoError(t, err)
	assert.Len(t, aliases, 2)
}
