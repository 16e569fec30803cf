package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StrategyFile is the on-disk layout of STRATEGIES_FILE.
type StrategyFile struct {
	Strategies []StrategySpec `yaml:"strategies" validate:"required,min=1,unique=Key,dive"`
}

// StrategySpec describes one strategy as written by an operator.
type StrategySpec struct {
	Key                int64  `yaml:"key" validate:"gte=0"`
	BatchManager       string `yaml:"batch_manager" validate:"omitempty,eth_addr"`
	TroveManager       string `yaml:"trove_manager" validate:"required,eth_addr"`
	BorrowerOperations string `yaml:"borrower_operations" validate:"required,eth_addr"`
	HintHelpers        string `yaml:"hint_helpers" validate:"required,eth_addr"`
	MultiTroveGetter   string `yaml:"multi_trove_getter" validate:"required,eth_addr"`
	CollateralRegistry string `yaml:"collateral_registry" validate:"required,eth_addr"`
	BoldToken          string `yaml:"bold_token" validate:"required,eth_addr"`
	CollateralIndex    uint64 `yaml:"collateral_index"`
	DerivationPath     string `yaml:"derivation_path" validate:"required"`
	// TargetMin is a fraction, "0.1" meaning 10%.
	TargetMin        string        `yaml:"target_min" validate:"required,fraction"`
	UpfrontFeePeriod time.Duration `yaml:"upfront_fee_period" validate:"required,gt=0"`
	PublicKey        string        `yaml:"public_key" validate:"required,pubkey"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("fraction", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive() && d.LessThanOrEqual(decimal.NewFromInt(1))
	})
	_ = v.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		b, err := hexutil.Decode(fl.Field().String())
		return err == nil && len(b) == 65 && b[0] == 0x04
	})
	return v
}

// LoadStrategies reads and validates the strategies file.
func LoadStrategies(path string) ([]model.StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return ParseStrategies(data)
}

func ParseStrategies(data []byte) ([]model.StrategyConfig, error) {
	var f StrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid strategies: %w", err)
	}
	out := make([]model.StrategyConfig, 0, len(f.Strategies))
	for _, s := range f.Strategies {
		out = append(out, s.toModel())
	}
	return out, nil
}

// toModel assumes the spec has passed validation.
func (s StrategySpec) toModel() model.StrategyConfig {
	target := decimal.RequireFromString(s.TargetMin).Shift(18).BigInt()
	return model.StrategyConfig{
		Key: s.Key,
		Contracts: model.MarketContracts{
			BatchManager:       optionalAddress(s.BatchManager),
			TroveManager:       common.HexToAddress(s.TroveManager),
			BorrowerOperations: common.HexToAddress(s.BorrowerOperations),
			HintHelpers:        common.HexToAddress(s.HintHelpers),
			MultiTroveGetter:   common.HexToAddress(s.MultiTroveGetter),
			CollateralRegistry: common.HexToAddress(s.CollateralRegistry),
			BoldToken:          common.HexToAddress(s.BoldToken),
		},
		CollateralIndex:  s.CollateralIndex,
		DerivationPath:   s.DerivationPath,
		TargetMin:        target,
		UpfrontFeePeriod: s.UpfrontFeePeriod,
		PublicKey:        hexutil.MustDecode(s.PublicKey),
	}
}

func optionalAddress(s string) common.Address {
	if strings.TrimSpace(s) == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
