package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/config"
	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository/postgres"
	auditService "github.com/jwalitptl/account-security/internal/service/audit"
	"github.com/jwalitptl/account-security/pkg/logger"
)

func TestUnwritableAuditFileStartsDegraded(t *testing.T) {
	cfg := config.AuditConfig{
		Sink:     "file",
		FilePath: filepath.Join(t.TempDir(), "missing", "audit.log"),
	}

	sink, repo := newAuditSink(cfg, postgres.BaseRepository{}, nil, logger.Nop())
	assert.Nil(t, sink)
	assert.Nil(t, repo)

	l := auditService.NewAuditLogger(sink, auditService.Options{})
	assert.True(t, l.Degraded())
	assert.ErrorIs(t, l.LoginSuccess(context.Background(), model.Actor{Username: "ops"}), auditService.ErrSinkUnavailable)
	assert.Equal(t, 1, l.Pending())
}

func TestAuditFileSink(t *testing.T) {
	cfg := config.AuditConfig{Sink: "file", FilePath: filepath.Join(t.TempDir(), "audit.log")}

	sink, repo := newAuditSink(cfg, postgres.BaseRepository{}, nil, logger.Nop())
	require.NotNil(t, sink)
	assert.Nil(t, repo)

	l := auditService.NewAuditLogger(sink, auditService.Options{})
	assert.False(t, l.Degraded())
	require.NoError(t, l.Close(context.Background()))
}
