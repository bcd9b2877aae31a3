// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package mods_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modsrt "github.com/modhaven/modhaven/internal/mods"
	"github.com/modhaven/modhaven/pkg/errutil"
	"github.com/modhaven/modhaven/pkg/mods"
)

func TestMemoryModRepository_CRUD(t *testing.T) {
	repo := modsrt.NewMemoryModRepository()
	ctx := context.Background()

	m := &mods.Mod{ID: "m1", Name: "Alpha", Tags: []string{"hd"}, ImportedAt: time.Now()}
	require.NoError(t, repo.Insert(ctx, m))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)

	// The stored copy is isolated from caller mutation.
	got.Tags[0] = "mutated"
	again, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hd"}, again.Tags)

	got.Name = "Renamed"
	require.NoError(t, repo.Update(ctx, got))
	again, err = repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Name)

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.Get(ctx, "m1")
	errutil.AssertErrorCode(t, err, modsrt.CodeModNotFound)
}

func TestMemoryModRepository_ListSorted(t *testing.T) {
	repo := modsrt.NewMemoryModRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, &mods.Mod{ID: "m2", Name: "Beta"}))
	require.NoError(t, repo.Insert(ctx, &mods.Mod{ID: "m1", Name: "Alpha"}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Beta", list[1].Name)
}

func TestMemoryModRepository_NotFoundPaths(t *testing.T) {
	repo := modsrt.NewMemoryModRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "ghost")
	errutil.AssertErrorCode(t, err, modsrt.CodeModNotFound)
	errutil.AssertErrorCode(t, repo.Update(ctx, &mods.Mod{ID: "ghost"}), modsrt.CodeModNotFound)
	errutil.AssertErrorCode(t, repo.Delete(ctx, "ghost"), modsrt.CodeModNotFound)
}

func TestMemoryClassificationRepository_AssignForMod(t *testing.T) {
	repo := modsrt.NewMemoryClassificationRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &mods.Classification{ID: "c1", Name: "Graphics", Color: "#ff0000"}))
	require.NoError(t, repo.Insert(ctx, &mods.Classification{ID: "c2", Name: "Audio"}))

	require.NoError(t, repo.Assign(ctx, "m1", "c1"))
	require.NoError(t, repo.Assign(ctx, "m1", "c1"), "re-assigning is a no-op")

	got, err := repo.ForMod(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Graphics", got[0].Name)

	require.NoError(t, repo.Unassign(ctx, "m1", "c1"))
	got, err = repo.ForMod(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryClassificationRepository_DeleteClearsAssignments(t *testing.T) {
	repo := modsrt.NewMemoryClassificationRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &mods.Classification{ID: "c1", Name: "Graphics"}))
	require.NoError(t, repo.Assign(ctx, "m1", "c1"))
	require.NoError(t, repo.Delete(ctx, "c1"))

	got, err := repo.ForMod(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
