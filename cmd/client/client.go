// Command client is a thin CLI over the exchange's TCP gateway: place,
// cancel, and query actions against the length-prefixed decimal wire
// protocol in internal/net/messages.go. Adapted from the teacher's
// cmd/client/client.go, which spoke a fixed-width float64/uint64/
// AssetType protocol that no longer exists.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange gateway")
	user := flag.String("user", "", "user id (required)")
	action := flag.String("action", "place", "action: place, cancel, query")

	symbol := flag.String("symbol", "BTC/USDT", "trading pair, BASE/QUOTE")
	sideStr := flag.String("side", "buy", "buy or sell")
	typeStr := flag.String("type", "limit", "limit, market, stop_limit, stop_market, ioc, fok")
	tifStr := flag.String("tif", "gtc", "gtc, ioc, fok, gtd")
	price := flag.String("price", "", "limit price")
	stopPrice := flag.String("stop-price", "", "stop trigger price")
	stopOpStr := flag.String("stop-op", "gte", "stop trigger comparison: gte or lte")
	qty := flag.String("qty", "", "order quantity")
	quoteBudget := flag.String("quote-budget", "", "quote-asset budget for a market buy")
	postOnly := flag.Bool("post-only", false, "reject instead of crossing the book")
	reduceOnly := flag.Bool("reduce-only", false, "only allowed to reduce an existing position")
	clientOrderID := flag.String("client-order-id", "", "idempotency key for this order")
	goodTilSeconds := flag.Int64("good-til-seconds", 0, "seconds from now this order expires (tif=gtd)")
	leverage := flag.Uint("leverage", 1, "position leverage, 1-100")

	orderID := flag.String("order-id", "", "order id, for cancel/query")

	flag.Parse()

	if *user == "" && strings.ToLower(*action) != "query" {
		fmt.Println("Error: -user is required")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		msg, err := buildNewOrder(*user, *symbol, *sideStr, *typeStr, *tifStr, *stopOpStr,
			*price, *stopPrice, *qty, *quoteBudget, *clientOrderID, *postOnly, *reduceOnly, *goodTilSeconds, uint8(*leverage))
		if err != nil {
			log.Fatalf("invalid order: %v", err)
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Fatalf("failed sending order: %v", err)
		}
		fmt.Printf("-> placed %s %s %s qty=%s price=%s\n", *sideStr, *typeStr, *symbol, *qty, *price)

	case "cancel":
		if *orderID == "" {
			log.Fatal("-order-id is required for cancel")
		}
		msg := &fenrirNet.CancelOrderMessage{User: *user, OrderID: *orderID}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Fatalf("failed sending cancel: %v", err)
		}
		fmt.Printf("-> cancel requested for %s\n", *orderID)

	case "query":
		if *orderID == "" {
			log.Fatal("-order-id is required for query")
		}
		msg := &fenrirNet.QueryOrderMessage{OrderID: *orderID}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Fatalf("failed sending query: %v", err)
		}

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("listening for reports... (ctrl-c to exit)")
	select {}
}

func buildNewOrder(user, symbol, sideStr, typeStr, tifStr, stopOpStr, priceStr, stopPriceStr, qtyStr, quoteBudgetStr, clientOrderID string, postOnly, reduceOnly bool, goodTilSeconds int64, leverage uint8) (*fenrirNet.NewOrderMessage, error) {
	side := common.Buy
	if strings.ToLower(sideStr) == "sell" {
		side = common.Sell
	}

	orderType, err := parseOrderType(typeStr)
	if err != nil {
		return nil, err
	}
	tif, err := parseTIF(tifStr)
	if err != nil {
		return nil, err
	}
	stopOp := common.GTE
	if strings.ToLower(stopOpStr) == "lte" {
		stopOp = common.LTE
	}

	price, err := decimalOrZero(priceStr)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	stopPrice, err := decimalOrZero(stopPriceStr)
	if err != nil {
		return nil, fmt.Errorf("stop-price: %w", err)
	}
	qty, err := decimalOrZero(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("qty: %w", err)
	}
	quoteBudget, err := decimalOrZero(quoteBudgetStr)
	if err != nil {
		return nil, fmt.Errorf("quote-budget: %w", err)
	}

	var goodTilNs int64
	if tif == common.GTD && goodTilSeconds > 0 {
		goodTilNs = time.Now().Add(time.Duration(goodTilSeconds) * time.Second).UnixNano()
	}

	return &fenrirNet.NewOrderMessage{
		Side:          side,
		Type:          orderType,
		TIF:           tif,
		PostOnly:      postOnly,
		ReduceOnly:    reduceOnly,
		StopOp:        stopOp,
		Leverage:      leverage,
		GoodTilNs:     goodTilNs,
		User:          user,
		ClientOrderID: clientOrderID,
		SymbolStr:     symbol,
		Price:         price,
		StopPrice:     stopPrice,
		Qty:           qty,
		QuoteBudget:   quoteBudget,
	}, nil
}

func parseOrderType(s string) (common.OrderType, error) {
	switch strings.ToLower(s) {
	case "limit":
		return common.Limit, nil
	case "market":
		return common.Market, nil
	case "stop_limit", "stop-limit":
		return common.StopLimit, nil
	case "stop_market", "stop-market":
		return common.StopMarket, nil
	case "ioc":
		return common.IOC, nil
	case "fok":
		return common.FOK, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

func parseTIF(s string) (common.TimeInForce, error) {
	switch strings.ToLower(s) {
	case "gtc":
		return common.GTC, nil
	case "ioc":
		return common.TIFIOC, nil
	case "fok":
		return common.TIFFOK, nil
	case "gtd":
		return common.GTD, nil
	default:
		return 0, fmt.Errorf("unknown tif %q", s)
	}
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// readReports prints every Report the server sends back on this
// connection until it disconnects. One Report per conn.Read, mirroring
// how the server writes one Report per conn.Write (internal/net/server.go
// never frames multiple reports into a single TCP read).
func readReports(conn net.Conn) {
	buf := make([]byte, 4*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}
		report, err := fenrirNet.ParseReport(buf[:n])
		if err != nil {
			log.Printf("failed parsing report: %v", err)
			continue
		}
		printReport(report)
	}
}

func printReport(r *fenrirNet.Report) {
	if !r.OK {
		fmt.Printf("\n[ERROR] order=%s code=%s message=%s\n", r.OrderID, r.Code, r.Message)
		return
	}
	fmt.Printf("\n[ACK] order=%s status=%s filled=%s avg_price=%s\n",
		r.OrderID, r.Status, r.FilledQty, r.AvgFillPrice)
}
