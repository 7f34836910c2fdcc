// Command casedesk runs a professional's case desk in the terminal: it keeps
// the five pools reconciled and prints them whenever they change.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"casedesk/bulkapi"
	"casedesk/channel"
	"casedesk/config"
	"casedesk/desk"
	"casedesk/detail"
	"casedesk/offer"
	"casedesk/pool"
	"casedesk/reconcile"
	"casedesk/session"
)

func main() {
	configPath := flag.String("config", os.Getenv("CASEDESK_CONFIG"), "path to casedesk.yaml")
	email := flag.String("email", "", "log in with this email instead of a token")
	flag.Parse()

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bulkapi.New(cfg.API.BaseURL, "")
	token := cfg.API.Token
	if *email != "" {
		res, err := client.Login(ctx, *email, os.Getenv("CASEDESK_PASSWORD"))
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		token = res.Token
	}
	if token == "" {
		log.Fatalf("no token: set CASEDESK_API_TOKEN or pass -email")
	}

	sess, err := desk.SessionFromToken(ctx, client, token)
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	newCache, closeCache, err := cacheFactory(ctx, cfg.Cache)
	if err != nil {
		log.Fatalf("detail cache: %v", err)
	}
	defer closeCache()

	d, err := desk.New(sess, desk.Options{
		APIBaseURL:     cfg.API.BaseURL,
		ChannelURL:     cfg.Channel.URL,
		ReconnectDelay: cfg.Channel.ReconnectDelay,
		Logger:         log.Default(),
		NewCache:       newCache,
	})
	if err != nil {
		log.Fatalf("desk: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		log.Fatalf("start desk: %v", err)
	}
	defer func() {
		if err := d.Close(context.Background()); err != nil {
			log.Printf("close desk: %v", err)
		}
	}()

	color.Cyan("casedesk: professional %d, type 'help' for commands", sess.ProfessionalID)

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.Changes():
			render(d.Snapshot())
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(ctx, d, line); quit {
				return
			}
		}
	}
}

func cacheFactory(ctx context.Context, cfg config.CacheConfig) (desk.CacheFactory, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	rdb, err := detail.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	factory := func(sess session.Session) detail.Cache {
		return detail.NewRedisCache(rdb, sess.Key, cfg.TTL)
	}
	return factory, func() { closeRedis(rdb) }, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		log.Printf("close redis: %v", err)
	}
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- strings.TrimSpace(sc.Text())
	}
}

func runCommand(ctx context.Context, d *desk.Desk, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	arg := func(i int) (int64, bool) {
		if len(fields) <= i {
			color.Red("  missing argument")
			return 0, false
		}
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			color.Red("  invalid number %q", fields[i])
			return 0, false
		}
		return v, true
	}

	n := d.Negotiator()
	var err error
	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		fmt.Println("  submit <case> <feeCents> | withdraw <case> | accept <case> | decline <case>")
		fmt.Println("  open <case> | close | refresh | quit")
		return false
	case "refresh":
		d.Engine().Refresh()
		return false
	case "close":
		d.Engine().CloseDetail()
		return false
	case "open":
		if id, ok := arg(1); ok {
			d.Engine().OpenDetail(id)
		}
		return false
	case "submit":
		id, ok := arg(1)
		fee, ok2 := arg(2)
		if !ok || !ok2 {
			return false
		}
		_, err = n.Submit(ctx, id, fee)
	case "withdraw", "accept", "decline":
		id, ok := arg(1)
		if !ok {
			return false
		}
		switch fields[0] {
		case "withdraw":
			_, err = n.Withdraw(ctx, id)
		case "accept":
			err = n.Accept(ctx, id)
		default:
			err = n.Decline(ctx, id)
		}
	default:
		color.Red("  unknown command %q", fields[0])
		return false
	}

	var rejected *offer.RejectedError
	switch {
	case err == nil:
		color.Green("  ✓ %s", fields[0])
	case errors.As(err, &rejected):
		color.Yellow("  server refused %s: %s", rejected.Op, rejected.Reason)
	default:
		color.Red("  ✗ %s: %v", fields[0], err)
	}
	return false
}

func render(s *reconcile.Snapshot) {
	status := color.New(color.FgGreen).SprintFunc()
	if s.Connection != channel.StateOnline {
		status = color.New(color.FgRed).SprintFunc()
	}
	color.Cyan("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("channel: %s  cases: %d  offers: %d\n", status(s.Connection), s.Len(), s.Offers.Len())
	if s.LastError != "" {
		color.Red("last fetch failed: %s", s.LastError)
	}
	for _, name := range pool.Names {
		list := s.View(name)
		color.Yellow("%s (%d)", name, len(list))
		for _, c := range list {
			fmt.Printf("  #%-6d %-12s %-18s %s%s\n", c.ID, c.Status, c.Category, c.Title, actionHint(s.Actions(c.ID)))
		}
	}
	if s.Detail.CaseID != 0 {
		switch s.Detail.State {
		case reconcile.DetailReady:
			color.Cyan("detail #%d: %s (%d offers)", s.Detail.CaseID, s.Detail.Detail.Description, s.Detail.Detail.OfferCount)
			if c, name, ok := s.Case(s.Detail.CaseID); ok {
				fmt.Printf("  %s, %s, %s\n", name, c.Status, c.Category)
			}
			if h := offerHistory(s, s.Detail.CaseID); h != "" {
				fmt.Println("  " + h)
			}
		case reconcile.DetailClosed:
			color.Red("detail #%d: case is no longer available", s.Detail.CaseID)
		default:
			fmt.Printf("detail #%d: %s\n", s.Detail.CaseID, s.Detail.State)
		}
	}
}

// offerHistory lists the professional's own offers on caseID in listing order.
func offerHistory(s *reconcile.Snapshot, caseID int64) string {
	list := s.Offers.ForCase(caseID)
	if len(list) == 0 {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, o := range list {
		parts = append(parts, fmt.Sprintf("#%d %s %d.%02d", o.ID, o.Status, o.FeeCents/100, o.FeeCents%100))
	}
	return "your offers: " + strings.Join(parts, ", ")
}

func actionHint(a offer.Actions) string {
	var hints []string
	if a.SubmitOffer {
		hints = append(hints, "submit")
	}
	if a.WithdrawOffer {
		hints = append(hints, "withdraw")
	}
	if a.Accept {
		hints = append(hints, "accept")
	}
	if a.Decline {
		hints = append(hints, "decline")
	}
	if len(hints) == 0 {
		return ""
	}
	return "  [" + strings.Join(hints, "|") + "]"
}
