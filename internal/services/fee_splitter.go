// internal/services/fee_splitter.go
package services

import (
	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// FeeSplit is the division of a gross deposit.
type FeeSplit struct {
	Gross   int64 `json:"gross"`
	Fee     int64 `json:"fee"`
	Royalty int64 `json:"royalty"`
	Net     int64 `json:"net"`
}

type FeeSplitter struct {
	feeBP     int64
	royaltyBP int64
}

// NewFeeSplitter rejects configurations that leave nothing for the
// recipient of the smallest deposit a stream may carry.
func NewFeeSplitter(feeBP, royaltyBP, minDeposit int64) (*FeeSplitter, error) {
	if feeBP < 0 || royaltyBP < 0 {
		return nil, apperrors.Validation("fee basis points must not be negative")
	}
	if feeBP+royaltyBP >= models.BasisPointScale {
		return nil, apperrors.WithCode(apperrors.ErrFeeTooHigh, "fee %d bp + royalty %d bp", feeBP, royaltyBP)
	}

	f := &FeeSplitter{feeBP: feeBP, royaltyBP: royaltyBP}
	split, err := f.Split(minDeposit, true)
	if err != nil {
		return nil, err
	}
	if split.Net <= 0 {
		return nil, apperrors.WithCode(apperrors.ErrFeeTooHigh, "minimum deposit %d nets %d", minDeposit, split.Net)
	}
	return f, nil
}

// Split divides gross. The royalty is only carved out when the stream has a
// royalty recipient.
func (f *FeeSplitter) Split(gross int64, withRoyalty bool) (FeeSplit, error) {
	if gross < 0 {
		return FeeSplit{}, apperrors.Validation("gross deposit must not be negative")
	}

	fee, err := utils.ApplyBP(gross, f.feeBP)
	if err != nil {
		return FeeSplit{}, err
	}

	var royalty int64
	if withRoyalty {
		if royalty, err = utils.ApplyBP(gross, f.royaltyBP); err != nil {
			return FeeSplit{}, err
		}
	}

	return FeeSplit{
		Gross:   gross,
		Fee:     fee,
		Royalty: royalty,
		Net:     gross - fee - royalty,
	}, nil
}
