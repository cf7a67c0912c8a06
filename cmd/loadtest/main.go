package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"alumnet/internal/logging"
	"alumnet/internal/models"
)

type User struct {
	ID    int64
	Email string
	Token string
}

type options struct {
	baseURL   string
	users     int
	rate      int
	duration  time.Duration
	batchSize int
	writeMix  float64
}

type loadTester struct {
	opts   options
	client *http.Client
	stats  *Stats
	logger zerolog.Logger
	runID  string
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "Server base URL")
	flag.IntVar(&opts.users, "users", 200, "Number of simulated users")
	flag.IntVar(&opts.rate, "rate", 1, "Requests per second per user")
	flag.DurationVar(&opts.duration, "duration", 60*time.Second, "Simulation length")
	flag.IntVar(&opts.batchSize, "batch", 20, "Users registered in parallel")
	flag.Float64Var(&opts.writeMix, "write-mix", 0.5, "Fraction of requests that send a message")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Pretty: true, ServiceName: "loadtest"})
	logger := logging.L()

	if opts.users < 2 || opts.rate < 1 || opts.batchSize < 1 {
		logger.Fatal().Msg("need at least 2 users, a rate of 1 and a batch size of 1")
	}

	logger.Info().
		Int("users", opts.users).
		Int("rate", opts.rate).
		Dur("duration", opts.duration).
		Msg("starting load test; run the server with -loadtest to use a separate database")

	lt := &loadTester{
		opts:   opts,
		client: &http.Client{Timeout: 5 * time.Second},
		stats:  &Stats{},
		logger: logger,
		runID:  fmt.Sprintf("%d", time.Now().UnixNano()),
	}

	users := lt.registerAll()
	if len(users) < opts.users/2 {
		logger.Fatal().Int("registered", len(users)).Msg("too many registration failures, aborting load test")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var listeners sync.WaitGroup
	for _, user := range users {
		conn, err := lt.connect(user)
		if err != nil {
			logger.Warn().Err(err).Int64("user_id", user.ID).Msg("websocket connect failed")
			continue
		}
		listeners.Add(1)
		go lt.listen(ctx, conn, &listeners)
	}

	lt.firstContact(users)

	start := time.Now()
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go lt.simulateUser(user, users, &wg)
	}
	wg.Wait()
	duration := time.Since(start)

	// Let in-flight pushes arrive before counting them.
	time.Sleep(time.Second)
	cancel()
	listeners.Wait()

	lt.stats.calculateStats(duration)
	lt.report(duration)
}

func (lt *loadTester) post(path, token string, body interface{}, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, lt.opts.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return lt.do(req, out)
}

func (lt *loadTester) get(path, token string, out interface{}) (int, error) {
	req, err := http.NewRequest(http.MethodGet, lt.opts.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return lt.do(req, out)
}

func (lt *loadTester) do(req *http.Request, out interface{}) (int, error) {
	resp, err := lt.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (lt *loadTester) registerUser(i int) (*User, error) {
	email := fmt.Sprintf("loadtest_%s_%d@alumni.test", lt.runID, i)
	signup := models.SignupRequest{
		FullName: fmt.Sprintf("Load Test User %d", i),
		Email:    email,
		Password: "testpass123",
	}
	status, err := lt.post("/api/users/signup", "", signup, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("signup failed with status: %d", status)
	}

	var login models.LoginResponse
	status, err = lt.post("/api/users/login", "", models.LoginRequest{Email: email, Password: signup.Password}, &login)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login failed with status: %d", status)
	}
	return &User{ID: login.User.ID, Email: email, Token: login.Token}, nil
}

func (lt *loadTester) registerAll() []*User {
	users := make([]*User, lt.opts.users)
	var wg sync.WaitGroup
	errChan := make(chan error, lt.opts.users)
	started := time.Now()

	for i := 0; i < lt.opts.users; i += lt.opts.batchSize {
		end := i + lt.opts.batchSize
		if end > lt.opts.users {
			end = lt.opts.users
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				user, err := lt.registerUser(j)
				if err != nil {
					errChan <- fmt.Errorf("user %d: %w", j, err)
					continue
				}
				users[j] = user
			}
		}(i, end)
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	failures := 0
	for err := range errChan {
		failures++
		if failures <= 10 {
			lt.logger.Warn().Err(err).Msg("registration failed")
		}
	}

	registered := make([]*User, 0, len(users))
	for _, user := range users {
		if user != nil {
			registered = append(registered, user)
		}
	}

	elapsed := time.Since(started)
	lt.logger.Info().
		Int("registered", len(registered)).
		Int("failed", failures).
		Dur("elapsed", elapsed).
		Float64("users_per_sec", float64(len(registered))/elapsed.Seconds()).
		Msg("user registration completed")
	return registered
}

func (lt *loadTester) connect(user *User) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(lt.opts.baseURL, "http") + "/ws?token=" + user.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(models.WebSocketMessage{Type: "addUser", Payload: user.ID}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// listen counts pushed messages until ctx is cancelled.
func (lt *loadTester) listen(ctx context.Context, conn *websocket.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type == "getMessage" {
			lt.stats.pushed.Add(1)
		}
	}
}

// firstContact has each pair of users message each other at the same
// moment and checks both sides land in one conversation.
func (lt *loadTester) firstContact(users []*User) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	split := 0

	for i := 0; i+1 < len(users); i += 2 {
		a, b := users[i], users[i+1]
		ids := make([]int64, 2)

		wg.Add(1)
		go func() {
			defer wg.Done()
			var pair sync.WaitGroup
			for k, pairing := range [][2]*User{{a, b}, {b, a}} {
				pair.Add(1)
				go func(k int, sender, receiver *User) {
					defer pair.Done()
					var res models.SendMessageResponse
					start := time.Now()
					status, err := lt.post("/api/messages", sender.Token, models.SendMessageRequest{
						ReceiverID: receiver.ID,
						Content:    "hello, fellow alum",
					}, &res)
					if err != nil || status != http.StatusCreated {
						lt.stats.recordError()
						return
					}
					lt.stats.recordSuccess(time.Since(start), WriteOperation)
					ids[k] = res.ConversationID
				}(k, pairing[0], pairing[1])
			}
			pair.Wait()

			if ids[0] != 0 && ids[0] != ids[1] {
				mu.Lock()
				split++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	event := lt.logger.Info()
	if split > 0 {
		event = lt.logger.Error()
	}
	event.Int("pairs", len(users)/2).Int("split_conversations", split).Msg("simultaneous first contact finished")
}

func (lt *loadTester) simulateUser(user *User, users []*User, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(lt.opts.rate))
	defer ticker.Stop()

	endTime := time.Now().Add(lt.opts.duration)

	for time.Now().Before(endTime) {
		<-ticker.C

		if rand.Float64() < lt.opts.writeMix {
			receiver := users[rand.Intn(len(users))]
			if receiver.ID == user.ID {
				continue
			}

			start := time.Now()
			status, err := lt.post("/api/messages", user.Token, models.SendMessageRequest{
				ReceiverID: receiver.ID,
				Content:    fmt.Sprintf("Test message from user %d at %s", user.ID, time.Now().Format(time.RFC3339)),
			}, nil)
			duration := time.Since(start)

			if err != nil || status != http.StatusCreated {
				lt.stats.recordError()
				lt.logger.Debug().Err(err).Int("status", status).Msg("send failed")
				continue
			}
			lt.stats.recordSuccess(duration, WriteOperation)
			continue
		}

		start := time.Now()
		var summaries []models.ConversationSummary
		status, err := lt.get("/api/users/conversations", user.Token, &summaries)
		if err == nil && status == http.StatusOK && len(summaries) > 0 {
			conv := summaries[rand.Intn(len(summaries))]
			status, err = lt.get(fmt.Sprintf("/api/messages/conversations/%d/messages?limit=50", conv.ConversationID), user.Token, nil)
		}
		duration := time.Since(start)

		if err != nil || status != http.StatusOK {
			lt.stats.recordError()
			lt.logger.Debug().Err(err).Int("status", status).Msg("read failed")
			continue
		}
		lt.stats.recordSuccess(duration, ReadOperation)
	}
}

func (lt *loadTester) report(duration time.Duration) {
	s := lt.stats
	s.Lock()
	total, success, failed := s.totalRequests, s.successRequests, s.failedRequests
	minLatency, maxLatency, rps := s.minLatency, s.maxLatency, s.requestsPerSecond
	s.Unlock()

	lt.logger.Info().
		Int64("total_requests", total).
		Int64("successful_requests", success).
		Int64("failed_requests", failed).
		Dur("avg_latency", s.averageLatency()).
		Dur("min_latency", minLatency).
		Dur("max_latency", maxLatency).
		Dur("p99_write_latency", s.getP99WriteLatency()).
		Dur("p99_read_latency", s.getP99ReadLatency()).
		Float64("requests_per_sec", rps).
		Int64("pushed_messages", s.pushed.Load()).
		Dur("total_duration", duration).
		Msg("load test results")
}
