package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-saga/internal/adapter/handler"
	"github.com/rl1809/order-saga/internal/adapter/storage"
	"github.com/rl1809/order-saga/internal/core/domain"
)

func main() {
	grpcAddr := flag.String("grpc", "localhost:50051", "order-service gRPC address")
	httpAddr := flag.String("http", "http://localhost:8080", "order-service HTTP address used to verify stock")
	mysqlDSN := flag.String("mysql", "root:root@tcp(localhost:3306)/ordersaga?parseTime=true", "MySQL DSN used to reset stock")
	productID := flag.Int64("product", 777, "product to sell")
	initialStock := flag.Int("stock", 20, "stock before the run")
	totalRequests := flag.Int("requests", 50, "concurrent orders of quantity 1")
	flag.Parse()

	ctx := context.Background()

	db, err := sql.Open("mysql", *mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()

	repo := storage.NewMySQLAdapter(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	if err := repo.UpsertProduct(ctx, domain.Product{
		ID:    *productID,
		Name:  "stress-test-item",
		Price: decimal.RequireFromString("10.00"),
		Stock: *initialStock,
	}); err != nil {
		log.Fatalf("failed to reset stock: %v", err)
	}

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to dial order-service: %v", err)
	}
	defer conn.Close()
	client := handler.NewOrderClient(conn)

	var successCount, soldOutCount, busyCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			_, err := client.CreateOrder(ctx, &handler.CreateOrderRequest{UserID: userID, ProductID: *productID, Quantity: 1})
			switch status.Code(err) {
			case codes.OK:
				successCount.Add(1)
			case codes.FailedPrecondition:
				soldOutCount.Add(1)
			case codes.Aborted:
				busyCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("user %d: %v", userID, err)
			}
		}(int64(i + 1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Lock Timeouts:    %d\n", busyCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := min(*initialStock, *totalRequests)
	if success == expected && soldOut == *totalRequests-expected {
		fmt.Printf("PASS: exactly %d orders succeeded, %d sold out\n", expected, soldOut)
	} else {
		fmt.Printf("FAIL: expected %d success/%d sold out, got %d/%d\n",
			expected, *totalRequests-expected, success, soldOut)
	}

	p, err := fetchProduct(*httpAddr, *productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", p.Stock)

	if p.Stock == *initialStock-success && p.Stock >= 0 {
		fmt.Println("PASS: stock matches committed orders")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-success, p.Stock)
	}
}

func fetchProduct(base string, id int64) (*handler.ProductHTTPResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/api/products/%d", base, id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET product %d: status %d", id, resp.StatusCode)
	}
	var p handler.ProductHTTPResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &p, nil
}
