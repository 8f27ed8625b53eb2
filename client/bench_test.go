package client

import (
	"context"
	"testing"

	"church-rpc/codec"
)

func benchClient(b *testing.B, ct codec.Type) *Client {
	b.Helper()
	u, _ := startServer(b)
	c, err := Dial(context.Background(), u, WithCodec(ct), WithPoolSize(8))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

// Single goroutine, one call at a time.
func BenchmarkSerialCall(b *testing.B) {
	for _, ct := range []codec.Type{codec.TypeJSON, codec.TypeGob} {
		b.Run(ct.String(), func(b *testing.B) {
			c := benchClient(b, ct)
			args := &Args{A: 1, B: 2}
			reply := &Reply{}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := c.Call(context.Background(), "", "Arith.Add", args, reply); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Many goroutines sharing the multiplexed pool.
func BenchmarkConcurrentCall(b *testing.B) {
	c := benchClient(b, codec.TypeJSON)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &Args{A: 1, B: 2}
		reply := &Reply{}
		for pb.Next() {
			if err := c.Call(context.Background(), "", "Arith.Add", args, reply); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
