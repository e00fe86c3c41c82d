package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
)

func TestAwaitMigrationNoChangeIsSuccess(t *testing.T) {
	err := awaitMigration(context.Background(), func() error { return migrate.ErrNoChange }, func() {}, time.Second)
	assert.NoError(t, err)
}

func TestAwaitMigrationWrapsFailure(t *testing.T) {
	dirty := errors.New("dirty database version 1")
	err := awaitMigration(context.Background(), func() error { return dirty }, func() {}, time.Second)
	assert.ErrorIs(t, err, dirty)
}

func TestAwaitMigrationStopsGracefully(t *testing.T) {
	stopCh := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := awaitMigration(ctx, func() error {
		<-stopCh
		return nil
	}, func() { close(stopCh) }, time.Minute)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitMigrationAbandonsHungMigration(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := awaitMigration(ctx, func() error {
		<-release
		return nil
	}, func() {}, 50*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "a hung migration must not outlive its timeout plus grace")
}
