package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gravitas-games/tactics-reach/internal/config"
	"github.com/gravitas-games/tactics-reach/internal/gamemap"
	"github.com/gravitas-games/tactics-reach/internal/grid"
	"github.com/gravitas-games/tactics-reach/internal/network"
	"github.com/gravitas-games/tactics-reach/internal/reach"
)

func TestReachCacheKey(t *testing.T) {
	base := reach.Query{
		Origin:   grid.Coord{X: 4, Y: 9},
		Budget:   5,
		Affinity: gamemap.Affinity{1: -1, 2: 2, 3: 0},
	}
	key := (*ReachCache)(nil).Key(42, base)
	if !strings.HasPrefix(key, "reach:") {
		t.Fatalf("expected default prefix, got %q", key)
	}

	reordered := base
	reordered.Affinity = gamemap.Affinity{3: 0, 2: 2, 1: -1}
	if got := (*ReachCache)(nil).Key(42, reordered); got != key {
		t.Fatalf("affinity order changed the key: %q vs %q", got, key)
	}

	variants := map[string]reach.Query{
		"budget":   {Origin: base.Origin, Budget: 6, Affinity: base.Affinity},
		"origin":   {Origin: grid.Coord{X: 9, Y: 4}, Budget: 5, Affinity: base.Affinity},
		"frontier": {Origin: base.Origin, Budget: 5, Affinity: base.Affinity, IncludeFrontier: true},
		"affinity": {Origin: base.Origin, Budget: 5, Affinity: gamemap.Affinity{1: -1, 2: 2}},
	}
	for name, q := range variants {
		if (*ReachCache)(nil).Key(42, q) == key {
			t.Errorf("changing %s did not change the key", name)
		}
	}
	if (*ReachCache)(nil).Key(43, base) == key {
		t.Errorf("changing the map fingerprint did not change the key")
	}
}

func TestDisabledReachCache(t *testing.T) {
	if c := NewReachCache(nil, "x:", time.Minute); c != nil {
		t.Fatalf("expected nil cache without a Redis client")
	}
	var c *ReachCache
	if _, ok := c.Get(context.Background(), "anything"); ok {
		t.Fatalf("nil cache should never hit")
	}
	c.Set(context.Background(), "anything", []reach.Tile{{}})
}

// fakeRedis speaks just enough RESP for GET and SET. When gate is set, every
// GET signals waiting and then blocks until gate is closed.
type fakeRedis struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string

	gate    chan struct{}
	waiting chan struct{}
}

func startFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	f := &fakeRedis{ln: ln, data: make(map[string]string)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if f.gate != nil && strings.EqualFold(args[0], "get") {
			select {
			case f.waiting <- struct{}{}:
			default:
			}
			<-f.gate
		}
		var reply string
		f.mu.Lock()
		switch strings.ToLower(args[0]) {
		case "get":
			if v, ok := f.data[args[1]]; ok {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
			} else {
				reply = "$-1\r\n"
			}
		case "set":
			f.data[args[1]] = args[2]
			reply = "+OK\r\n"
		case "ping":
			reply = "+PONG\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, n)
	for i := range args {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "$")))
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", line)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args[i] = string(buf[:size])
	}
	return args, nil
}

func (f *fakeRedis) keys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func (f *fakeRedis) put(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

func cachedSession(t *testing.T, yaml string, f *fakeRedis) *Session {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: f.ln.Addr().String()})
	t.Cleanup(func() { client.Close() })
	s, err := NewSession("cached", cfg, NewReachCache(client, "reach:", time.Minute))
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return s
}

func TestReachCacheRoundTrip(t *testing.T) {
	f := startFakeRedis(t)
	s := cachedSession(t, testConfigYAML, f)
	ctx := context.Background()
	origin := grid.Coord{X: 5, Y: 5}
	req := network.ReachPayload{Origin: &origin, Budget: intPtr(2), IncludeFrontier: true}

	first, err := s.Reach(ctx, req)
	if err != nil {
		t.Fatalf("unexpected reach error: %v", err)
	}
	if first.Cached || f.keys() != 1 {
		t.Fatalf("expected a computed result stored once, cached=%v keys=%d", first.Cached, f.keys())
	}

	second, err := s.Reach(ctx, req)
	if err != nil {
		t.Fatalf("unexpected reach error: %v", err)
	}
	if !second.Cached {
		t.Fatalf("expected the second query to hit the cache")
	}
	if !reflect.DeepEqual(first.Tiles, second.Tiles) {
		t.Fatalf("cached tiles differ:\n%+v\n%+v", first.Tiles, second.Tiles)
	}
}

func TestReachCacheSeparatesCostTables(t *testing.T) {
	f := startFakeRedis(t)
	cheap := cachedSession(t, testConfigYAML, f)
	dear := cachedSession(t, strings.Replace(testConfigYAML, "cost: 1, weight: 1", "cost: 2, weight: 1", 1), f)
	ctx := context.Background()
	origin := grid.Coord{X: 5, Y: 5}
	req := network.ReachPayload{Origin: &origin, Budget: intPtr(2)}

	a, err := cheap.Reach(ctx, req)
	if err != nil {
		t.Fatalf("unexpected reach error: %v", err)
	}
	b, err := dear.Reach(ctx, req)
	if err != nil {
		t.Fatalf("unexpected reach error: %v", err)
	}
	if b.Cached {
		t.Fatalf("a session with other costs was served a cached result")
	}
	if len(a.Tiles) != 13 || len(b.Tiles) != 5 {
		t.Fatalf("expected 13 and 5 tiles, got %d and %d", len(a.Tiles), len(b.Tiles))
	}
	if f.keys() != 2 {
		t.Fatalf("expected one entry per cost table, got %d", f.keys())
	}
}

func TestReachCacheIgnoresCorruptEntries(t *testing.T) {
	f := startFakeRedis(t)
	s := cachedSession(t, testConfigYAML, f)
	ctx := context.Background()
	origin := grid.Coord{X: 5, Y: 5}

	q := reach.Query{Origin: origin, Budget: 1}
	f.put(s.cache.Key(s.engine.Fingerprint(), q), "not json")
	if _, ok := s.cache.Get(ctx, s.cache.Key(s.engine.Fingerprint(), q)); ok {
		t.Fatalf("expected a corrupt entry to miss")
	}

	res, err := s.Reach(ctx, network.ReachPayload{Origin: &origin, Budget: intPtr(1)})
	if err != nil {
		t.Fatalf("unexpected reach error: %v", err)
	}
	if res.Cached || len(res.Tiles) != 5 {
		t.Fatalf("expected a fresh result of 5 tiles, got cached=%v tiles=%d", res.Cached, len(res.Tiles))
	}
}
