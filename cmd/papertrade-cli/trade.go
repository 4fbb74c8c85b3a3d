package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"papertrade/internal/domain"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open an account for --user",
	Args:  cobra.NoArgs,
	RunE:  runOpen,
}

var quoteCmd = &cobra.Command{
	Use:   "quote <symbol>",
	Short: "Show the current quote for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuote,
}

var buyCmd = &cobra.Command{
	Use:   "buy <symbol> <shares>",
	Short: "Buy shares at the current quote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, args, domain.SideBuy)
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <symbol> <shares>",
	Short: "Sell shares at the current quote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, args, domain.SideSell)
	},
}

var cashCmd = &cobra.Command{
	Use:   "cash",
	Short: "Show available cash",
	Args:  cobra.NoArgs,
	RunE:  runCash,
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Show holdings valued at current quotes",
	Args:  cobra.NoArgs,
	RunE:  runPortfolio,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List every trade with the resulting cash balance",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var openCash string

func init() {
	rootCmd.AddCommand(openCmd, quoteCmd, buyCmd, sellCmd, cashCmd, portfolioCmd, historyCmd)
	openCmd.Flags().StringVar(&openCash, "cash", "", "initial cash (server default when empty)")
}

var errNoUser = errors.New("--user is required")

func runOpen(cmd *cobra.Command, _ []string) error {
	if userID == "" {
		return errNoUser
	}
	cash := decimal.Zero
	if openCash != "" {
		var err error
		if cash, err = decimal.NewFromString(openCash); err != nil {
			return fmt.Errorf("--cash: %w", err)
		}
	}
	acct, err := newClient().OpenAccount(cmd.Context(), userID, cash)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "opened %s with %s\n", acct.UserID, acct.InitialCash.StringFixed(2))
	return nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	q, err := newClient().Quote(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", q.Symbol, q.Name, q.Price.StringFixed(2))
	return nil
}

func runTrade(cmd *cobra.Command, args []string, side domain.Side) error {
	if userID == "" {
		return errNoUser
	}
	shares, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("shares %q: %w", args[1], err)
	}
	res, err := newClient().Trade(cmd.Context(), userID, args[0], shares, side)
	if err != nil {
		return err
	}
	if res.Status != domain.TradeCommitted || res.Record == nil {
		return fmt.Errorf("trade rejected: %s", res.Reason)
	}
	rec := res.Record
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s @ %s (seq %d)\n",
		rec.Side(), abs(rec.Shares), rec.Symbol, rec.Price.StringFixed(2), rec.Seq)
	return nil
}

func runCash(cmd *cobra.Command, _ []string) error {
	if userID == "" {
		return errNoUser
	}
	cash, err := newClient().Cash(cmd.Context(), userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cash.StringFixed(2))
	return nil
}

func runPortfolio(cmd *cobra.Command, _ []string) error {
	if userID == "" {
		return errNoUser
	}
	p, err := newClient().Portfolio(cmd.Context(), userID)
	if err != nil {
		return err
	}
	printPortfolio(cmd.OutOrStdout(), p)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if userID == "" {
		return errNoUser
	}
	h, err := newClient().History(cmd.Context(), userID)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), h)
	return nil
}

func printPortfolio(w io.Writer, p domain.Portfolio) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tSHARES\tPRICE\tVALUE")
	for _, h := range p.Holdings {
		price := h.CurrentPrice.StringFixed(2)
		if h.Stale {
			price += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", h.Symbol, h.Name, h.Shares, price, h.MarketValue.StringFixed(2))
	}
	fmt.Fprintf(tw, "CASH\t\t\t\t%s\n", p.Cash.StringFixed(2))
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", p.GrandTotal.StringFixed(2))
	tw.Flush()
}

func printHistory(w io.Writer, h domain.History) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tTYPE\tSYMBOL\tSHARES\tPRICE\tTOTAL\tCASH")
	for _, e := range h.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Symbol, e.Shares,
			e.Price.StringFixed(2), e.Total.StringFixed(2), e.CashAfter.StringFixed(2))
	}
	tw.Flush()
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
