package resolver

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates prompt sizes for context budgeting.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts with a tiktoken encoding, falling back to a
// character estimate when the encoding cannot be loaded (the encoding
// data is fetched lazily and the network may be unavailable).
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenCounter creates a counter for the given encoding. Local
// models do not publish their vocabularies, so cl100k_base is a close
// enough proxy for budgeting purposes.
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

// CountTokens returns the token count for text.
func (c *TiktokenCounter) CountTokens(text string) int {
	c.once.Do(func() {
		c.enc, c.initErr = tiktoken.GetEncoding(c.encoding)
		if c.initErr != nil {
			c.logger.Warn("tiktoken encoding unavailable, using estimate",
				zap.String("encoding", c.encoding), zap.Error(c.initErr))
		}
	})
	if c.initErr != nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimatorCounter is the dependency-free fallback counter.
type EstimatorCounter struct{}

// CountTokens estimates roughly four characters per token.
func (EstimatorCounter) CountTokens(text string) int {
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
