package tiller

import (
	"strings"
	"testing"
)

// --- token estimator benchmarks ---

func BenchmarkEstimateTokens_ASCII(b *testing.B) {
	s := strings.Repeat("hello world ", 500)
	b.ResetTimer()
	for range b.N {
		EstimateTokens(s)
	}
}

func BenchmarkEstimateTokens_Chinese(b *testing.B) {
	s := strings.Repeat("你好世界", 1500)
	b.ResetTimer()
	for range b.N {
		EstimateTokens(s)
	}
}

// --- compaction benchmarks ---

func BenchmarkCompact_20Turns(b *testing.B) {
	c := NewCompactor()
	msgs := turnPairs(20)
	b.ResetTimer()
	for range b.N {
		c.Compact(msgs)
	}
}

func BenchmarkCompact_200Turns(b *testing.B) {
	c := NewCompactor()
	msgs := turnPairs(200)
	b.ResetTimer()
	for range b.N {
		c.Compact(msgs)
	}
}

// --- pipe benchmarks ---

func BenchmarkPipeEnqueueDrain(b *testing.B) {
	for range b.N {
		p := NewPipe[int]()
		for i := 0; i < 100; i++ {
			p.Enqueue(i)
		}
		p.Complete()
		for {
			msg, _, ok := p.TryRead()
			if !ok || msg.Done {
				break
			}
		}
	}
}
