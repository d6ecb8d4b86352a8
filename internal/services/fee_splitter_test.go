// internal/services/fee_splitter_test.go
package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
)

func TestFeeSplitter(t *testing.T) {
	f, err := NewFeeSplitter(250, 50, 60)
	require.NoError(t, err)

	split, err := f.Split(1_000_000_000, true)
	require.NoError(t, err)
	assert.Equal(t, FeeSplit{Gross: 1_000_000_000, Fee: 25_000_000, Royalty: 5_000_000, Net: 970_000_000}, split)

	split, err = f.Split(1_000_000_000, false)
	require.NoError(t, err)
	assert.Zero(t, split.Royalty)
	assert.Equal(t, int64(975_000_000), split.Net)

	// fees round down, the recipient keeps the dust
	split, err = f.Split(399, true)
	require.NoError(t, err)
	assert.Equal(t, int64(9), split.Fee)
	assert.Equal(t, int64(1), split.Royalty)
	assert.Equal(t, int64(389), split.Net)

	_, err = f.Split(-1, false)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestNewFeeSplitterRejectsExcessiveFees(t *testing.T) {
	_, err := NewFeeSplitter(9000, 1000, 60)
	assert.True(t, errors.Is(err, apperrors.ErrFeeTooHigh))

	// no minimum deposit means a stream could net nothing
	_, err = NewFeeSplitter(250, 50, 0)
	assert.True(t, errors.Is(err, apperrors.ErrFeeTooHigh))

	_, err = NewFeeSplitter(-1, 0, 60)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
