package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/client"
	"github.com/aeolun/ripplechat/pkg/protocol"
	"github.com/aeolun/ripplechat/pkg/session"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

// Stats tracks performance metrics
type Stats struct {
	messagesPosted   atomic.Int64
	messagesEchoed   atomic.Int64
	messagesFailed   atomic.Int64
	messagesSeen     atomic.Int64
	totalEchoTime    atomic.Int64 // in microseconds
	connectionErrors atomic.Int64
	sessionErrors    atomic.Int64
	disconnections   atomic.Int64
}

func (s *Stats) recordEcho(latency time.Duration) {
	s.messagesEchoed.Add(1)
	s.totalEchoTime.Add(latency.Microseconds())
}

func (s *Stats) snapshot() (posted, echoed, failed int64, avgEchoUs float64) {
	posted = s.messagesPosted.Load()
	echoed = s.messagesEchoed.Load()
	failed = s.messagesFailed.Load()

	if echoed > 0 {
		avgEchoUs = float64(s.totalEchoTime.Load()) / float64(echoed)
	}

	return
}

// BotClient is a scripted chat participant
type BotClient struct {
	id       int
	username string
	conn     *client.Connection
	reducer  *session.Reducer
	stats    *Stats

	// Send times of our messages not yet echoed back, oldest first
	pendingMu sync.Mutex
	pending   []time.Time
}

func NewBotClient(id int, serverURL string, stats *Stats) *BotClient {
	bc := &BotClient{
		id:       id,
		username: fmt.Sprintf("bot%d_%04x", id, rand.Intn(0x10000)),
		stats:    stats,
	}

	b := bus.New()
	bc.conn = client.NewConnection(serverURL, client.Options{
		Username: bc.username,
		Bus:      b,
	})
	bc.reducer = session.NewReducer(session.Config{
		Username: bc.username,
		Sender:   bc.conn,
		Reporter: func(err error) { stats.sessionErrors.Add(1) },
	})

	// Echo tracking runs before the reducer sees the frame
	b.Subscribe(bc.observe)
	bc.reducer.Attach(b)

	return bc
}

// observe matches echoes of our own messages to their send times. The relay
// preserves per-sender order, so echoes arrive in send order.
func (bc *BotClient) observe(frame string) {
	env, err := protocol.Decode(frame)
	if err != nil || env.MessageType != protocol.TypeMessage {
		return
	}
	bc.stats.messagesSeen.Add(1)

	payload, err := protocol.DecodeChatPayload(env.DataString())
	if err != nil || payload.From != bc.username {
		return
	}

	bc.pendingMu.Lock()
	defer bc.pendingMu.Unlock()
	if len(bc.pending) == 0 {
		return
	}
	sentAt := bc.pending[0]
	bc.pending = bc.pending[1:]
	bc.stats.recordEcho(time.Since(sentAt))
}

func (bc *BotClient) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return bc.conn.Connect(ctx)
}

func (bc *BotClient) PostRandomMessage() error {
	// Generate random message content (5-20 words)
	wordCount := 5 + rand.Intn(16)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}

	bc.pendingMu.Lock()
	bc.pending = append(bc.pending, time.Now())
	bc.pendingMu.Unlock()

	if err := bc.reducer.Submit(strings.Join(words, " ")); err != nil {
		bc.pendingMu.Lock()
		bc.pending = bc.pending[:len(bc.pending)-1]
		bc.pendingMu.Unlock()

		bc.stats.messagesFailed.Add(1)
		if bc.conn.State() != client.StateOpen {
			bc.stats.disconnections.Add(1)
		}
		return err
	}

	bc.stats.messagesPosted.Add(1)
	return nil
}

func (bc *BotClient) Run(stop <-chan struct{}, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.conn.Close()

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) {
		if err := bc.PostRandomMessage(); err != nil && bc.conn.State() != client.StateOpen {
			return
		}

		// Random delay between posts
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-time.After(delay):
		case <-stop:
			return
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	select {
	case <-time.After(shutdownDelay):
	case <-stop:
	}
}

func main() {
	// Command-line flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Server URL")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	flag.Parse()

	if *numClients < 1 {
		log.Fatal("-clients must be at least 1")
	}

	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverURL)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("")

	stats := &Stats{}
	var wg sync.WaitGroup

	// Handle graceful shutdown
	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		close(stop)
	}()

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				posted, echoed, failed, avgUs := stats.snapshot()
				rate := float64(posted) / time.Since(startTime).Seconds()
				log.Printf("Stats: %d posted (%.1f/s), %d echoed, %d failed, avg echo %.2fms",
					posted, rate, echoed, failed, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	start := time.Now()

spawn:
	for i := 0; i < *numClients; i++ {
		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		bot := NewBotClient(i, *serverURL, stats)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			if err := bot.Connect(context.Background()); err != nil {
				stats.connectionErrors.Add(1)
				bot.conn.Close()
				return
			}

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.username)
			}

			bot.Run(stop, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i)

		// Stagger client connections based on calculated delay
		select {
		case <-time.After(staggerDelay):
		case <-stop:
			break spawn
		}
	}

	wg.Wait()
	close(stopStats)

	// Final stats
	posted, echoed, failed, avgUs := stats.snapshot()
	elapsed := time.Since(start)

	log.Printf("")
	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", elapsed.Round(time.Millisecond))
	log.Printf("Messages posted: %d (%.1f/s)", posted, float64(posted)/elapsed.Seconds())
	log.Printf("Messages echoed: %d", echoed)
	log.Printf("Messages failed: %d", failed)
	log.Printf("  - Disconnections: %d", stats.disconnections.Load())
	log.Printf("Messages delivered to bots: %d", stats.messagesSeen.Load())
	log.Printf("Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("Session errors: %d", stats.sessionErrors.Load())
	log.Printf("Average echo latency: %.2fms", avgUs/1000.0)

	if posted > 0 {
		log.Printf("Echo rate: %.1f%%", float64(echoed)/float64(posted)*100)
	}
}
