package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

type LoadTestConfig struct {
	TargetURL       string
	APIKey          string
	ConcurrentUsers int
	Duration        time.Duration
	RequestsPerSec  int
}

type SensorReading struct {
	DeviceID   int64     `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
}

type TestResults struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    time.Duration
	MinLatency      time.Duration
	MaxLatency      time.Duration
	Errors          []string
	mu              sync.RWMutex
}

func (tr *TestResults) AddResult(success bool, latency time.Duration, err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.TotalRequests++
	tr.TotalLatency += latency

	if tr.MinLatency == 0 || latency < tr.MinLatency {
		tr.MinLatency = latency
	}
	if latency > tr.MaxLatency {
		tr.MaxLatency = latency
	}

	if success {
		tr.SuccessRequests++
	} else {
		tr.FailedRequests++
		if err != nil {
			tr.Errors = append(tr.Errors, err.Error())
		}
	}
}

func (tr *TestResults) GetStats() (float64, float64, time.Duration) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	successRate := float64(tr.SuccessRequests) / float64(tr.TotalRequests) * 100
	avgLatency := tr.TotalLatency / time.Duration(tr.TotalRequests)

	return successRate, float64(tr.TotalRequests), avgLatency
}

func generateReading() SensorReading {
	sensorTypes := []string{"temperature", "humidity", "ndir"}
	sensorType := sensorTypes[rand.Intn(len(sensorTypes))]

	var value float64
	switch sensorType {
	case "temperature":
		value = rand.Float64()*50 + 10 // 10-60 C
	case "humidity":
		value = rand.Float64() * 100 // 0-100 %
	case "ndir":
		value = rand.Float64()*1600 + 400 // 400-2000 ppm
	}

	return SensorReading{
		DeviceID:   int64(rand.Intn(100) + 1),
		SensorType: sensorType,
		Value:      value,
		// Berlin-ish bounding box
		Latitude:  52.3 + rand.Float64()*0.4,
		Longitude: 13.1 + rand.Float64()*0.6,
		Timestamp: time.Now().UTC().Add(-time.Duration(rand.Intn(3600)) * time.Second),
	}
}

func sendReading(client *http.Client, config LoadTestConfig, reading SensorReading) (bool, time.Duration, error) {
	jsonData, err := json.Marshal(reading)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()

	req, err := http.NewRequest("POST", config.TargetURL+"/api/v1/sensors/data", bytes.NewBuffer(jsonData))
	if err != nil {
		return false, time.Since(start), err
	}

	req.Header.Set("Content-Type", "application/json")
	if config.APIKey != "" {
		req.Header.Set("X-API-Key", config.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, time.Since(start), err
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !success {
		return false, latency, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return true, latency, nil
}

func worker(ctx context.Context, workerID int, config LoadTestConfig, results *TestResults, wg *sync.WaitGroup) {
	defer wg.Done()

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ticker := time.NewTicker(time.Second / time.Duration(config.RequestsPerSec))
	defer ticker.Stop()

	log.Printf("Worker %d started", workerID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopped", workerID)
			return
		case <-ticker.C:
			success, latency, err := sendReading(client, config, generateReading())
			results.AddResult(success, latency, err)
		}
	}
}

func printProgress(ctx context.Context, results *TestResults, duration time.Duration) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			remaining := duration - elapsed

			successRate, totalReqs, avgLatency := results.GetStats()

			fmt.Printf("\n=== Progress Update ===\n")
			fmt.Printf("Elapsed: %v, Remaining: %v\n", elapsed.Round(time.Second), remaining.Round(time.Second))
			fmt.Printf("Total Requests: %.0f\n", totalReqs)
			fmt.Printf("Success Rate: %.2f%%\n", successRate)
			fmt.Printf("Average Latency: %v\n", avgLatency.Round(time.Millisecond))
			fmt.Printf("Requests/sec: %.2f\n", totalReqs/elapsed.Seconds())

			if remaining <= 0 {
				return
			}
		}
	}
}

func testAggregatedEndpoint(client *http.Client, config LoadTestConfig) error {
	fmt.Println("\n=== Testing Aggregated History Endpoint ===")

	params := url.Values{}
	params.Set("start_time", time.Now().UTC().Add(-1*time.Hour).Format(time.RFC3339))
	params.Set("end_time", time.Now().UTC().Format(time.RFC3339))
	params.Set("aggregation", "mean")

	req, err := http.NewRequest("GET", config.TargetURL+"/api/v1/sensors/history/aggregated?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if config.APIKey != "" {
		req.Header.Set("X-API-Key", config.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("aggregated request failed: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	if resp.StatusCode != 200 {
		return fmt.Errorf("aggregated endpoint returned HTTP %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode aggregated response: %w", err)
	}

	fmt.Printf("Aggregated query completed in %v\n", latency.Round(time.Millisecond))
	fmt.Printf("Groups: %v, total rows: %v\n", result["group_count"], result["total_count"])

	return nil
}

func main() {
	config := LoadTestConfig{
		TargetURL:       getEnv("TARGET_URL", "http://localhost:8080"),
		APIKey:          getEnv("API_KEY", ""),
		ConcurrentUsers: getEnvInt("CONCURRENT_USERS", 10),
		Duration:        getEnvDuration("DURATION", "60s"),
		RequestsPerSec:  getEnvInt("REQUESTS_PER_SEC", 5),
	}

	fmt.Printf("=== Load Test Configuration ===\n")
	fmt.Printf("Target URL: %s\n", config.TargetURL)
	fmt.Printf("Concurrent Users: %d\n", config.ConcurrentUsers)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Requests per second per user: %d\n", config.RequestsPerSec)
	fmt.Printf("Total expected requests per second: %d\n", config.ConcurrentUsers*config.RequestsPerSec)

	// Wait for service to be ready
	fmt.Println("\nWaiting for service to be ready...")
	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < 30; i++ {
		resp, err := client.Get(config.TargetURL + "/health/live")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			fmt.Println("Service is ready!")
			break
		}
		if resp != nil {
			resp.Body.Close()
		}

		fmt.Printf("Waiting for service... (%d/30)\n", i+1)
		time.Sleep(2 * time.Second)
	}

	results := &TestResults{}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	go printProgress(ctx, results, config.Duration)

	var wg sync.WaitGroup
	fmt.Printf("\nStarting %d concurrent users...\n", config.ConcurrentUsers)

	for i := 0; i < config.ConcurrentUsers; i++ {
		wg.Add(1)
		go worker(ctx, i+1, config, results, &wg)
	}

	wg.Wait()

	fmt.Printf("\n=== Final Results ===\n")
	successRate, totalReqs, avgLatency := results.GetStats()

	fmt.Printf("Total Requests: %.0f\n", totalReqs)
	fmt.Printf("Successful Requests: %d\n", results.SuccessRequests)
	fmt.Printf("Failed Requests: %d\n", results.FailedRequests)
	fmt.Printf("Success Rate: %.2f%%\n", successRate)
	fmt.Printf("Average Latency: %v\n", avgLatency.Round(time.Millisecond))
	fmt.Printf("Min Latency: %v\n", results.MinLatency.Round(time.Millisecond))
	fmt.Printf("Max Latency: %v\n", results.MaxLatency.Round(time.Millisecond))
	fmt.Printf("Throughput: %.2f requests/second\n", totalReqs/config.Duration.Seconds())

	if len(results.Errors) > 0 {
		fmt.Printf("\n=== Errors (showing first 10) ===\n")
		for i, err := range results.Errors {
			if i >= 10 {
				fmt.Printf("... and %d more errors\n", len(results.Errors)-10)
				break
			}
			fmt.Printf("- %s\n", err)
		}
	}

	if err := testAggregatedEndpoint(&http.Client{Timeout: 30 * time.Second}, config); err != nil {
		fmt.Printf("Aggregated endpoint test failed: %v\n", err)
	}

	fmt.Println("\nLoad test completed!")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	if parsed, err := time.ParseDuration(defaultValue); err == nil {
		return parsed
	}
	return time.Minute
}
