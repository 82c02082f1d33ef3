package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"symphonybacktest/internal/backtest"
	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/evaluator"
	"symphonybacktest/internal/indicator"
	"symphonybacktest/internal/logger"
	"symphonybacktest/internal/symphony"
)

func main() {
	root := &cobra.Command{
		Use:   "symphonybacktest",
		Short: "Validate and backtest symphony strategy definitions",
	}
	root.AddCommand(validateCmd(), backtestCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <symphony.json>",
		Short: "Structurally validate a symphony definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := loadSymphony(args[0])
			if err != nil {
				return err
			}
			tree, validationErrs := symphony.Validate(root)
			if len(validationErrs) > 0 {
				for _, e := range validationErrs {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return fmt.Errorf("%d validation errors", len(validationErrs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: references %v\n", symphony.Assets(tree))
			return nil
		},
	}
	return cmd
}

func backtestCmd() *cobra.Command {
	var (
		pricesPath string
		startStr   string
		endStr     string
		capital    float64
	)
	cmd := &cobra.Command{
		Use:   "backtest <symphony.json>",
		Short: "Run a symphony against historical prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New()
			defer log.Sync()

			root, err := loadSymphony(args[0])
			if err != nil {
				return err
			}
			tree, validationErrs := symphony.Validate(root)
			if len(validationErrs) > 0 {
				for _, e := range validationErrs {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return fmt.Errorf("%d validation errors", len(validationErrs))
			}

			history, err := loadPrices(pricesPath)
			if err != nil {
				return err
			}
			start, err := time.Parse(time.DateOnly, startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse(time.DateOnly, endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			driver := backtest.NewDriver(
				evaluator.New(indicator.NewCachedEngine(indicator.NewEngine(), indicator.NewCache())),
				log,
			)
			in := backtest.RunInput{
				Tree:    tree,
				History: history,
				Start:   start,
				End:     end,
			}
			if capital > 0 {
				in.InitialCapital = decimal.NewFromFloat(capital)
			}
			result, err := driver.Run(in)
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}
	cmd.Flags().StringVar(&pricesPath, "prices", "", "CSV of symbol,date,close,volume rows")
	cmd.Flags().StringVar(&startStr, "start", "", "backtest start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "backtest end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&capital, "capital", 0, "initial capital (default 100000)")
	cmd.MarkFlagRequired("prices")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func loadSymphony(path string) (*domain.SymphonyNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read symphony file: %w", err)
	}
	return symphony.Parse(data)
}

type priceRow struct {
	Symbol string  `csv:"symbol"`
	Date   string  `csv:"date"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

func loadPrices(path string) (*domain.PriceHistory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open prices file: %w", err)
	}
	defer f.Close()

	rows := []*priceRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("could not parse prices csv: %w", err)
	}

	series := map[string][]domain.Candle{}
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q for %s: %w", row.Date, row.Symbol, err)
		}
		series[row.Symbol] = append(series[row.Symbol], domain.Candle{
			Date:   date,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	return domain.NewPriceHistory(series), nil
}

type resultSummary struct {
	RunID       string             `json:"runId"`
	Samples     int                `json:"samples"`
	FinalValue  string             `json:"finalValue"`
	Failure     string             `json:"failure,omitempty"`
	FailureDate string             `json:"failureDate,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

func printResult(cmd *cobra.Command, result *backtest.Result) error {
	summary := resultSummary{
		RunID:      result.RunID.String(),
		Samples:    len(result.Samples),
		FinalValue: result.FinalValue.StringFixed(2),
	}
	if result.Failure != nil {
		summary.Failure = result.Failure.Error()
		summary.FailureDate = result.FailureDate.Format(time.DateOnly)
	}
	if result.Metrics != nil {
		summary.Metrics = map[string]float64{
			"annualizedReturn": result.Metrics.AnnualizedReturn,
			"annualizedStdev":  result.Metrics.AnnualizedStdev,
			"sharpeRatio":      result.Metrics.SharpeRatio,
			"maxDrawdown":      result.Metrics.MaxDrawdown,
		}
	}
	out, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
