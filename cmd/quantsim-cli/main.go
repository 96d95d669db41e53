package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"quantsim/internal/api"
	"quantsim/internal/domain"
	"quantsim/internal/jobs"
	"quantsim/internal/report"
	"quantsim/pkg/quantsim"
)

const version = "0.1.0"

// Styles.
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = map[domain.JobStatus]lipgloss.Style{
		domain.JobPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.JobRunning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		domain.JobCompleted: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		domain.JobFailed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		domain.JobCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// jobAPI is the part of the server both transports expose.
type jobAPI interface {
	Submit(ctx context.Context, p jobs.Params) (*domain.SimulationJob, error)
	Get(ctx context.Context, id string) (*domain.SimulationJob, error)
	Cancel(ctx context.Context, id string) (*domain.SimulationJob, error)
}

// httpJobs adapts the HTTP client to jobAPI.
type httpJobs struct{ c *quantsim.Client }

func (h httpJobs) Submit(ctx context.Context, p jobs.Params) (*domain.SimulationJob, error) {
	id, err := h.c.SubmitBulk(ctx, p)
	if err != nil {
		return nil, err
	}
	return &domain.SimulationJob{ID: id, Kind: domain.JobBulk, Status: domain.JobPending}, nil
}

func (h httpJobs) Get(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return h.c.Job(ctx, id)
}

func (h httpJobs) Cancel(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return h.c.Cancel(ctx, id)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: quantsim-cli [-addr URL] [-grpc HOST:PORT] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies           List buy and sell strategies\n")
	fmt.Fprintf(os.Stderr, "  submit [options]     Queue a bulk simulation (-watch to follow it)\n")
	fmt.Fprintf(os.Stderr, "  single [options]     Run a single-symbol simulation and print the summary\n")
	fmt.Fprintf(os.Stderr, "  list                 List recent jobs\n")
	fmt.Fprintf(os.Stderr, "  status <id>          Show a job\n")
	fmt.Fprintf(os.Stderr, "  watch <id>           Follow a job with a progress bar\n")
	fmt.Fprintf(os.Stderr, "  cancel <id>          Cancel a job\n")
	fmt.Fprintf(os.Stderr, "  result <id>          Print a completed job's summary\n")
	fmt.Fprintf(os.Stderr, "  csv <id>             Write a completed job's bar table to stdout\n")
	fmt.Fprintf(os.Stderr, "  trades [symbol]      List live trade events\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	addr := flag.String("addr", envOr("QUANTSIM_ADDR", "http://localhost:8080"), "HTTP API base URL")
	grpcAddr := flag.String("grpc", os.Getenv("QUANTSIM_GRPC"), "gRPC address for submit/status/cancel (optional)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	client := quantsim.NewClient(*addr)
	var jobsAPI jobAPI = httpJobs{client}
	if *grpcAddr != "" {
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			fatal(err)
		}
		defer conn.Close()
		jobsAPI = api.NewJobClient(conn)
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("quantsim-cli %s\n", version)
	case "strategies":
		err = runStrategies(ctx, client)
	case "submit":
		err = runSubmit(ctx, jobsAPI, args)
	case "single":
		err = runSingle(ctx, client, args)
	case "list":
		err = runList(ctx, client)
	case "status":
		err = withID(args, func(id string) error {
			job, err := jobsAPI.Get(ctx, id)
			if err == nil {
				printJob(job)
			}
			return err
		})
	case "watch":
		err = withID(args, func(id string) error { return watch(ctx, jobsAPI, id) })
	case "cancel":
		err = withID(args, func(id string) error {
			job, err := jobsAPI.Cancel(ctx, id)
			if err == nil {
				printJob(job)
			}
			return err
		})
	case "result":
		err = withID(args, func(id string) error {
			res, err := client.Result(ctx, id)
			if err == nil {
				printResult(res)
			}
			return err
		})
	case "csv":
		err = withID(args, func(id string) error {
			data, err := client.CSV(ctx, id)
			if err == nil {
				_, err = os.Stdout.Write(data)
			}
			return err
		})
	case "trades":
		err = runTrades(ctx, client, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, lossStyle.Render("error: ")+err.Error())
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func withID(args []string, fn func(id string) error) error {
	if len(args) != 1 {
		return errors.New("expected exactly one job id")
	}
	return fn(args[0])
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func runStrategies(ctx context.Context, c *quantsim.Client) error {
	resp, err := c.Strategies(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("buy"))
	for _, s := range resp.Buy {
		fmt.Println("  " + s)
	}
	fmt.Println(titleStyle.Render("sell"))
	for _, s := range resp.Sell {
		fmt.Println("  " + s)
	}
	return nil
}

func runSubmit(ctx context.Context, j jobAPI, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	follow := fs.Bool("watch", false, "follow the job until it finishes")
	p, err := parseParams(fs, args, domain.JobBulk)
	if err != nil {
		return err
	}
	job, err := j.Submit(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", labelStyle.Render("submitted"), job.ID)
	if *follow {
		return watch(ctx, j, job.ID)
	}
	return nil
}

func runSingle(ctx context.Context, c *quantsim.Client, args []string) error {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	p, err := parseParams(fs, args, domain.JobSingle)
	if err != nil {
		return err
	}
	res, err := c.RunSingle(ctx, p)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func runList(ctx context.Context, c *quantsim.Client) error {
	list, err := c.Jobs(ctx, 20)
	if err != nil {
		return err
	}
	for i := range list {
		j := &list[i]
		fmt.Printf("%-36s  %-6s  %s  %s  %s\n",
			j.ID, j.Kind, renderStatus(j.Status),
			labelStyle.Render(fmt.Sprintf("%d/%d", j.CompletedSteps, j.TotalSteps)),
			labelStyle.Render(j.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	return nil
}

func runTrades(ctx context.Context, c *quantsim.Client, args []string) error {
	symbol := ""
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}
	events, err := c.Trades(ctx, symbol, 50)
	if err != nil {
		return err
	}
	for _, ev := range events {
		side := gainStyle.Render(fmt.Sprintf("%-4s", ev.Side))
		if ev.Side == domain.SideSell {
			side = lossStyle.Render(fmt.Sprintf("%-4s", ev.Side))
		}
		line := fmt.Sprintf("%s  %-6s %s %8s @ %10s  cash %s",
			labelStyle.Render(ev.Timestamp.Format(time.DateOnly)), ev.Symbol, side,
			formatInt(ev.Quantity), formatMoney(ev.Price), formatCompact(ev.CashAfter))
		if ev.Side == domain.SideSell {
			line += "  pnl " + formatMoney(ev.RealizedPnL)
		}
		if ev.Reason != "" {
			line += "  " + labelStyle.Render(ev.Reason)
		}
		fmt.Println(line)
	}
	return nil
}

// parseParams reads the shared simulation flags.
func parseParams(fs *flag.FlagSet, args []string, kind domain.JobKind) (jobs.Params, error) {
	symbols := fs.String("symbols", "", "comma-separated symbols")
	buy := fs.String("buy", "", "comma-separated buy strategies")
	sell := fs.String("sell", "", "comma-separated sell strategies")
	start := fs.String("start", "", "start date YYYY-MM-DD")
	end := fs.String("end", "", "end date YYYY-MM-DD (default today)")
	capital := fs.Float64("capital", 100_000, "initial capital")
	tp := fs.String("tp", "", "take profit KIND:PERCENT, e.g. FIXED:10")
	sl := fs.String("sl", "", "stop loss KIND:PERCENT, e.g. TRAILING:5")
	ratio := fs.Float64("ratio", 0, "buy with this percent of book value")
	amount := fs.Float64("amount", 0, "buy with this fixed amount")
	interval := fs.String("interval", "", "D, W or M")
	continuous := fs.Bool("continuous", false, "use continuous (gapless) series")
	if err := fs.Parse(args); err != nil {
		return jobs.Params{}, err
	}

	p := jobs.Params{
		Kind:           kind,
		Trigger:        "cli",
		Symbols:        splitList(*symbols),
		StartDate:      *start,
		EndDate:        *end,
		InitialCapital: *capital,
		BuyStrategies:  splitList(*buy),
		SellStrategies: splitList(*sell),
		Interval:       domain.Interval(*interval),
		Continuous:     *continuous,
	}
	p.Sizing.Ratio = *ratio
	p.Sizing.FixedAmount = *amount
	var err error
	if p.TakeProfit, err = parseExit(*tp); err != nil {
		return p, fmt.Errorf("-tp: %w", err)
	}
	if p.StopLoss, err = parseExit(*sl); err != nil {
		return p, fmt.Errorf("-sl: %w", err)
	}
	if len(p.Symbols) == 0 || p.StartDate == "" {
		return p, errors.New("-symbols and -start are required")
	}
	return p, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseExit parses "KIND:PERCENT". An empty string disables the policy.
func parseExit(s string) (domain.ExitPolicy, error) {
	if s == "" {
		return domain.ExitPolicy{Kind: domain.ExitNone}, nil
	}
	kind, ratio, ok := strings.Cut(s, ":")
	if !ok {
		return domain.ExitPolicy{}, fmt.Errorf("want KIND:PERCENT, got %q", s)
	}
	r, err := strconv.ParseFloat(ratio, 64)
	if err != nil || r < 0 {
		return domain.ExitPolicy{}, fmt.Errorf("invalid ratio %q", ratio)
	}
	return domain.ExitPolicy{Kind: domain.ParseExitKind(kind), Ratio: r}, nil
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func renderStatus(s domain.JobStatus) string {
	if st, ok := statusStyle[s]; ok {
		return st.Render(fmt.Sprintf("%-9s", s))
	}
	return fmt.Sprintf("%-9s", s)
}

func printJob(j *domain.SimulationJob) {
	fmt.Printf("%s %s\n", titleStyle.Render("job"), j.ID)
	fmt.Printf("  %s %s\n", labelStyle.Render("kind     "), j.Kind)
	fmt.Printf("  %s %s\n", labelStyle.Render("status   "), renderStatus(j.Status))
	fmt.Printf("  %s %d/%d\n", labelStyle.Render("progress "), j.CompletedSteps, j.TotalSteps)
	if j.Error != "" {
		fmt.Printf("  %s %s\n", labelStyle.Render("error    "), lossStyle.Render(j.Error))
	}
	if !j.UpdatedAt.IsZero() {
		fmt.Printf("  %s %s\n", labelStyle.Render("updated  "), j.UpdatedAt.Local().Format(time.DateTime))
	}
}

func pct(v float64) string {
	s := fmt.Sprintf("%+.2f%%", v)
	if v < 0 {
		return lossStyle.Render(s)
	}
	return gainStyle.Render(s)
}

func printResult(r *report.Result) {
	s := r.Summary
	fmt.Printf("%s %s  %s..%s  %d symbols\n", titleStyle.Render("result"), r.JobID,
		r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), len(r.Symbols))
	fmt.Printf("  %s %s -> %s  %s\n", labelStyle.Render("value    "), formatMoney(s.InitialCapital), formatMoney(s.FinalValue), pct(s.ReturnPct))
	fmt.Printf("  %s %s realized, %s unrealized\n", labelStyle.Render("pnl      "), formatMoney(s.RealizedPnL), formatMoney(s.UnrealizedPnL))
	fmt.Printf("  %s %s fees, %s taxes\n", labelStyle.Render("costs    "), formatMoney(s.Fees), formatMoney(s.Taxes))
	fmt.Printf("  %s %d buys, %d sells (%d take profit, %d stop loss)\n", labelStyle.Render("trades   "), s.Buys, s.Sells, s.TakeProfits, s.StopLosses)
	fmt.Printf("  %s %.1f%%  %s %s\n", labelStyle.Render("win rate "), s.WinRate, labelStyle.Render("max dd"), pct(-s.MaxDrawdownPct))
	if len(r.FailedSymbols) > 0 {
		fmt.Printf("  %s %s\n", labelStyle.Render("failed   "), lossStyle.Render(strings.Join(r.FailedSymbols, ", ")))
	}
}
