package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"papertrade/internal/domain"
)

// LedgerServiceName is the fully-qualified gRPC service name. Messages are
// google.protobuf.Struct values, so no generated stubs are needed.
const LedgerServiceName = "papertrade.v1.Ledger"

// LedgerEngine is the subset of the ledger engine exposed over gRPC.
type LedgerEngine interface {
	Trade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
	NetShares(ctx context.Context, userID, symbol string) (int64, error)
	AvailableCash(ctx context.Context, userID string) (decimal.Decimal, error)
	ListTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error)
}

// LedgerService implements the papertrade.v1.Ledger gRPC service.
type LedgerService struct {
	engine LedgerEngine
}

// NewLedgerService creates a LedgerService backed by engine.
func NewLedgerService(engine LedgerEngine) *LedgerService {
	return &LedgerService{engine: engine}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *LedgerService) RegisterGRPC(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ledgerServiceDesc, s)
}

type ledgerMethod func(s *LedgerService, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProposeTrade", Handler: unaryHandler("ProposeTrade", (*LedgerService).proposeTrade)},
		{MethodName: "NetShares", Handler: unaryHandler("NetShares", (*LedgerService).netShares)},
		{MethodName: "AvailableCash", Handler: unaryHandler("AvailableCash", (*LedgerService).availableCash)},
		{MethodName: "ListTrades", Handler: unaryHandler("ListTrades", (*LedgerService).listTrades)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "papertrade/v1/ledger.proto",
}

func unaryHandler(method string, call ledgerMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*LedgerService)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + LedgerServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// proposeTrade trades at the live quote. Clients cannot supply a price.
func (s *LedgerService) proposeTrade(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	shares, ok := intField(in, "shares")
	if !ok {
		return nil, rejectionError(domain.ReasonInvalidQuantity)
	}
	req := domain.TradeRequest{
		UserID: stringField(in, "user_id"),
		Symbol: stringField(in, "symbol"),
		Shares: shares,
		Side:   domain.Side(stringField(in, "side")),
	}
	if side, err := domain.ParseSide(string(req.Side)); err == nil {
		req.Side = side
	}

	res, err := s.engine.Trade(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	if !res.Committed() {
		return nil, rejectionError(res.Reason)
	}
	return structpb.NewStruct(map[string]any{
		"status": string(res.Status),
		"record": recordToMap(res.Record),
	})
}

func (s *LedgerService) netShares(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	symbol := domain.NormalizeSymbol(stringField(in, "symbol"))
	n, err := s.engine.NetShares(ctx, stringField(in, "user_id"), symbol)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"symbol": symbol, "shares": strconv.FormatInt(n, 10)})
}

func (s *LedgerService) availableCash(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cash, err := s.engine.AvailableCash(ctx, stringField(in, "user_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"cash": cash.String()})
}

func (s *LedgerService) listTrades(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	recs, err := s.engine.ListTrades(ctx, stringField(in, "user_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	list := make([]any, len(recs))
	for i, r := range recs {
		list[i] = recordToMap(r)
	}
	return structpb.NewStruct(map[string]any{"trades": list})
}

// ---------------------------------------------------------------------------
// Conversion helpers
// ---------------------------------------------------------------------------

// Responses carry int64 values as decimal strings, as the protobuf JSON
// mapping does, so positions beyond 2^53 survive the float64 number type.

// rejectionError encodes a rejection as a status whose message is the
// reason. Malformed requests are InvalidArgument; the rest are
// FailedPrecondition.
func rejectionError(reason domain.RejectReason) error {
	switch reason {
	case domain.ReasonInvalidQuantity, domain.ReasonInvalidSide:
		return status.Error(codes.InvalidArgument, string(reason))
	default:
		return status.Error(codes.FailedPrecondition, string(reason))
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStorage):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrUnknownAccount):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// maxExactInt is the largest magnitude a float64 number value holds exactly.
const maxExactInt = 1 << 53

// intField reads an integral number value. Missing fields read as zero;
// fractional, non-finite and out-of-range values are reported as not ok.
func intField(s *structpb.Struct, key string) (int64, bool) {
	v := s.GetFields()[key].GetNumberValue()
	if v != math.Trunc(v) || math.Abs(v) > maxExactInt {
		return 0, false
	}
	return int64(v), true
}

func recordToMap(r domain.TradeRecord) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"seq":       strconv.FormatInt(r.Seq, 10),
		"user_id":   r.UserID,
		"symbol":    r.Symbol,
		"name":      r.Name,
		"shares":    strconv.FormatInt(r.Shares, 10),
		"price":     r.Price.String(),
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func recordFromStruct(s *structpb.Struct) (domain.TradeRecord, error) {
	price, err := decimal.NewFromString(stringField(s, "price"))
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record price: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, stringField(s, "timestamp"))
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record timestamp: %w", err)
	}
	seq, err := strconv.ParseInt(stringField(s, "seq"), 10, 64)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record seq: %w", err)
	}
	shares, err := strconv.ParseInt(stringField(s, "shares"), 10, 64)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record shares: %w", err)
	}
	return domain.TradeRecord{
		ID:        stringField(s, "id"),
		Seq:       seq,
		UserID:    stringField(s, "user_id"),
		Symbol:    stringField(s, "symbol"),
		Name:      stringField(s, "name"),
		Shares:    shares,
		Price:     price,
		Timestamp: ts,
	}, nil
}
