package api

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"papertrade/internal/domain"
)

// LedgerClient calls the papertrade.v1.Ledger service.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerClient wraps an existing connection.
func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

// DialLedger connects to addr without transport security.
func DialLedger(addr string) (*LedgerClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return NewLedgerClient(conn), conn, nil
}

func (c *LedgerClient) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+LedgerServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProposeTrade submits req at the server's live quote. Rejections come back
// as a TradeResult with a nil error.
func (c *LedgerClient) ProposeTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	out, err := c.call(ctx, "ProposeTrade", map[string]any{
		"user_id": req.UserID,
		"symbol":  req.Symbol,
		"shares":  req.Shares,
		"side":    string(req.Side),
	})
	if err != nil {
		if st, ok := status.FromError(err); ok &&
			(st.Code() == codes.FailedPrecondition || st.Code() == codes.InvalidArgument) {
			reason := domain.RejectReason(st.Message())
			if _, known := domain.ReasonFor(reason.Err()); known {
				return domain.Rejected(reason), nil
			}
		}
		return domain.TradeResult{}, err
	}
	rec, err := recordFromStruct(out.GetFields()["record"].GetStructValue())
	if err != nil {
		return domain.TradeResult{}, err
	}
	return domain.Committed(rec), nil
}

// NetShares returns the user's position in symbol.
func (c *LedgerClient) NetShares(ctx context.Context, userID, symbol string) (int64, error) {
	out, err := c.call(ctx, "NetShares", map[string]any{"user_id": userID, "symbol": symbol})
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(stringField(out, "shares"), 10, 64)
}

// AvailableCash returns the user's derived cash.
func (c *LedgerClient) AvailableCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	out, err := c.call(ctx, "AvailableCash", map[string]any{"user_id": userID})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(stringField(out, "cash"))
}

// ListTrades returns the user's trades in append order.
func (c *LedgerClient) ListTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	out, err := c.call(ctx, "ListTrades", map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	vals := out.GetFields()["trades"].GetListValue().GetValues()
	recs := make([]domain.TradeRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := recordFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
