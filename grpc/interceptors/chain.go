package interceptors

import (
	"slices"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// chain is an ordered set of named interceptors. None of the operations are concurrency-safe.
type chain[T any] struct {
	order []string
	items map[string]T
}

func newChain[T any]() chain[T] {
	return chain[T]{items: make(map[string]T)}
}

// Exists reports whether an interceptor with the given ID is in the chain.
func (c *chain[T]) Exists(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Order returns the interceptor IDs in execution order.
func (c *chain[T]) Order() []string {
	return slices.Clone(c.order)
}

// Push adds a new interceptor onto the end of the chain.
// Returns false if an item with the specified ID already exists.
// Push("b", <inter>)
//
//	Before: a
//	After: a -> b
func (c *chain[T]) Push(id string, inter T) bool {
	if c.Exists(id) {
		return false
	}
	c.items[id] = inter
	c.order = append(c.order, id)
	return true
}

// InsertAfter inserts an interceptor after the specified interceptor in the chain.
// InsertAfter("a", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *chain[T]) InsertAfter(afterID, id string, inter T) bool {
	return c.insertAt(afterID, 1, id, inter)
}

// InsertBefore inserts a new interceptor before the specified interceptor in the chain.
// InsertBefore("b", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *chain[T]) InsertBefore(beforeID, id string, inter T) bool {
	return c.insertAt(beforeID, 0, id, inter)
}

func (c *chain[T]) insertAt(anchor string, offset int, id string, inter T) bool {
	if c.Exists(id) || !c.Exists(anchor) {
		return false
	}
	index := slices.Index(c.order, anchor) + offset
	c.order = slices.Insert(c.order, index, id)
	c.items[id] = inter
	return true
}

// Replace swaps the interceptor registered under id, keeping its position.
func (c *chain[T]) Replace(id string, inter T) bool {
	if !c.Exists(id) {
		return false
	}
	c.items[id] = inter
	return true
}

// Delete removes the specified interceptor from the chain.
func (c *chain[T]) Delete(id string) bool {
	if !c.Exists(id) {
		return false
	}
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	delete(c.items, id)
	return true
}

func (c *chain[T]) list() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// UnaryServerInterceptorChain builds grpc.UnaryServerInterceptor's
type UnaryServerInterceptorChain struct {
	chain[grpc.UnaryServerInterceptor]
}

// StreamServerInterceptorChain builds grpc.StreamServerInterceptor's
type StreamServerInterceptorChain struct {
	chain[grpc.StreamServerInterceptor]
}

// NewUnaryServerInterceptorChain constructs a new interceptor chain that can be modified.
func NewUnaryServerInterceptorChain() *UnaryServerInterceptorChain {
	return &UnaryServerInterceptorChain{chain: newChain[grpc.UnaryServerInterceptor]()}
}

// NewStreamServerInterceptorChain constructs a new interceptor chain that can be modified.
func NewStreamServerInterceptorChain() *StreamServerInterceptorChain {
	return &StreamServerInterceptorChain{chain: newChain[grpc.StreamServerInterceptor]()}
}

// Commit chains the interceptors, in order, into one.
func (c *UnaryServerInterceptorChain) Commit() grpc.UnaryServerInterceptor {
	return grpcmiddleware.ChainUnaryServer(c.list()...)
}

// Commit chains the interceptors, in order, into one.
func (c *StreamServerInterceptorChain) Commit() grpc.StreamServerInterceptor {
	return grpcmiddleware.ChainStreamServer(c.list()...)
}
