package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSkills() []skills.Descriptor {
	return []skills.Descriptor{
		{
			ID:      "notes",
			Name:    "Notes",
			Tier:    skills.TierStdio,
			Enabled: true,
			Command: "notes-server",
			Args:    []string{"--db", "/tmp/notes"},
			Env:     map[string]string{"LOG_LEVEL": "debug"},
			Owner:   skills.OwnerAgent,
		},
		{
			ID:        "catalog",
			Name:      "Catalog",
			Tier:      skills.TierService,
			Enabled:   false,
			URL:       "http://catalog.default.svc/mcp",
			Headers:   map[string]string{"Authorization": "Bearer x"},
			Owner:     skills.OwnerExtension,
			Tags:      []string{"search"},
			UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func exerciseStore(t *testing.T, s SkillStore) {
	t.Helper()
	ctx := context.Background()

	for _, d := range sampleSkills() {
		require.NoError(t, s.SaveSkill(ctx, d))
	}
	got, err := s.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "catalog", got[0].ID)
	assert.Equal(t, "notes", got[1].ID)
	assert.Equal(t, []string{"--db", "/tmp/notes"}, got[1].Args)
	assert.Equal(t, "Bearer x", got[0].Headers["Authorization"])
	assert.False(t, got[0].Enabled)
	assert.True(t, got[0].UpdatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	updated := sampleSkills()[1]
	updated.Enabled = true
	require.NoError(t, s.SaveSkill(ctx, updated))
	got, err = s.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Enabled)

	require.NoError(t, s.DeleteSkill(ctx, "notes"))
	require.NoError(t, s.DeleteSkill(ctx, "missing"))
	got, err = s.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "catalog", got[0].ID)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesDescriptors(t *testing.T) {
	s := NewMemory()
	d := sampleSkills()[0]
	require.NoError(t, s.SaveSkill(context.Background(), d))
	d.Args[0] = "mutated"

	got, err := s.ListSkills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "--db", got[0].Args[0])
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:skill_store_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSQLite(db)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestOpenSQLiteFile(t *testing.T) {
	dsn := "file:" + t.TempDir() + "/skills.db"
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, s.SaveSkill(ctx, sampleSkills()[0]))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "notes-server", got[0].Command)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = Open(context.Background(), DriverSQLite, "")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestOpenDefaultsToMemory(t *testing.T) {
	s, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}
