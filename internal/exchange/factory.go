package exchange

import (
	"fmt"

	"tradewarden/internal/config"
)

// New builds the venue client selected by exchange.backend.
func New(cfg *config.Config) (Client, error) {
	switch cfg.Exchange.Backend {
	case "mock":
		return NewMockClient(cfg.Trading.Pairs), nil
	case "binance":
		return NewBinanceClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet), nil
	default:
		return nil, fmt.Errorf("%w: unknown exchange backend %q", ErrValidation, cfg.Exchange.Backend)
	}
}
