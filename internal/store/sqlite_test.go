// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modhaven/modhaven/internal/store"
	"github.com/modhaven/modhaven/pkg/errutil"
	"github.com/modhaven/modhaven/pkg/mods"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")

	st, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	migrator, err := store.NewMigrator(st.DB())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())
	return st
}

func testMod(id, name string) *mods.Mod {
	return &mods.Mod{
		ID:         id,
		Name:       name,
		Version:    "1.2.3",
		Archive:    "/data/mods/" + id + ".zip",
		Tags:       []string{"graphics", "hd"},
		ImportedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSQLiteModRepository_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	repo := st.Mods()
	ctx := context.Background()

	m := testMod("m1", "Alpha")
	m.Description = "a test mod"
	require.NoError(t, repo.Insert(ctx, m))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, []string{"graphics", "hd"}, got.Tags)
	assert.Equal(t, "a test mod", got.Description)
	assert.True(t, m.ImportedAt.Equal(got.ImportedAt))
	assert.False(t, got.Enabled)

	got.Enabled = true
	got.Tags = nil
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Empty(t, got.Tags)

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.Get(ctx, "m1")
	errutil.AssertErrorCode(t, err, store.CodeStoreNotFound)
}

func TestSQLiteModRepository_ListOrderedByName(t *testing.T) {
	st := openTestStore(t)
	repo := st.Mods()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, testMod("m2", "Beta")))
	require.NoError(t, repo.Insert(ctx, testMod("m1", "Alpha")))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Beta", list[1].Name)
}

func TestSQLiteModRepository_DuplicateInsertRejected(t *testing.T) {
	st := openTestStore(t)
	repo := st.Mods()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, testMod("m1", "Alpha")))
	err := repo.Insert(ctx, testMod("m1", "Alpha Again"))
	errutil.AssertErrorCode(t, err, store.CodeStoreQuery)
}

func TestSQLiteModRepository_MissingRows(t *testing.T) {
	st := openTestStore(t)
	repo := st.Mods()
	ctx := context.Background()

	_, err := repo.Get(ctx, "ghost")
	errutil.AssertErrorCode(t, err, store.CodeStoreNotFound)
	errutil.AssertErrorCode(t, repo.Update(ctx, testMod("ghost", "Ghost")), store.CodeStoreNotFound)
	errutil.AssertErrorCode(t, repo.Delete(ctx, "ghost"), store.CodeStoreNotFound)
}

func TestSQLiteClassificationRepository_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	repo := st.Classifications()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &mods.Classification{ID: "c1", Name: "Graphics", Color: "#ff0000"}))
	require.NoError(t, repo.Insert(ctx, &mods.Classification{ID: "c2", Name: "Audio", Color: "#00ff00"}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Audio", list[0].Name)
	assert.Equal(t, "Graphics", list[1].Name)

	require.NoError(t, repo.Delete(ctx, "c2"))
	errutil.AssertErrorCode(t, repo.Delete(ctx, "c2"), store.CodeStoreNotFound)
}

func TestSQLiteClassificationRepository_Assignments(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Mods().Insert(ctx, testMod("m1", "Alpha")))
	classes := st.Classifications()
	require.NoError(t, classes.Insert(ctx, &mods.Classification{ID: "c1", Name: "Graphics"}))

	require.NoError(t, classes.Assign(ctx, "m1", "c1"))
	require.NoError(t, classes.Assign(ctx, "m1", "c1"), "re-assigning is a no-op")

	got, err := classes.ForMod(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Graphics", got[0].Name)

	require.NoError(t, classes.Unassign(ctx, "m1", "c1"))
	got, err = classes.ForMod(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteClassificationRepository_CascadeOnDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Mods().Insert(ctx, testMod("m1", "Alpha")))
	classes := st.Classifications()
	require.NoError(t, classes.Insert(ctx, &mods.Classification{ID: "c1", Name: "Graphics"}))
	require.NoError(t, classes.Assign(ctx, "m1", "c1"))

	// Deleting either side clears the assignment.
	require.NoError(t, classes.Delete(ctx, "c1"))
	got, err := classes.ForMod(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, classes.Insert(ctx, &mods.Classification{ID: "c2", Name: "Audio"}))
	require.NoError(t, classes.Assign(ctx, "m1", "c2"))
	require.NoError(t, st.Mods().Delete(ctx, "m1"))
	got, err = classes.ForMod(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenSQLite_CreatesDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")

	st, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, st.Close())
	assert.FileExists(t, path)
}
