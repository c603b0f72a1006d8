package grpc

import (
	context "context"
	"encoding/json"
	"errors"
	"math"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "rewards.v1.Rewards"

// Сообщения - google.protobuf.Struct, поля как в JSON ответах HTTP
type RewardsServer interface {
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Play(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRemainingPlays(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChannels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitRedemption(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRedemption(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdvanceRedemption(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type RewardsService struct {
	facade *services.Facade
	logger *zap.Logger
}

func NewRewardsService(facade *services.Facade, logger *zap.Logger) *RewardsService {
	return &RewardsService{facade, logger}
}

func RegisterRewardsServer(s gogrpc.ServiceRegistrar, srv RewardsServer) {
	s.RegisterService(&Rewards_ServiceDesc, srv)
}

type call func(srv RewardsServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) gogrpc.MethodDesc {
	return gogrpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(RewardsServer), ctx, in)
			}
			info := &gogrpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(RewardsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var Rewards_ServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RewardsServer)(nil),
	Methods: []gogrpc.MethodDesc{
		unary("GetAccount", RewardsServer.GetAccount),
		unary("Play", RewardsServer.Play),
		unary("GetRemainingPlays", RewardsServer.GetRemainingPlays),
		unary("ListChannels", RewardsServer.ListChannels),
		unary("SubmitRedemption", RewardsServer.SubmitRedemption),
		unary("GetRedemption", RewardsServer.GetRedemption),
		unary("AdvanceRedemption", RewardsServer.AdvanceRedemption),
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "rewards.proto",
}

// Баланс
func (p *RewardsService) GetAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	summary, err := p.facade.GetAccount(ctx, str(in, "user"))
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(summary)
}

// Игра
func (p *RewardsService) Play(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := p.facade.Play(ctx, str(in, "user"), str(in, "game"), str(in, "idempotency_key"))
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(out)
}

func (p *RewardsService) GetRemainingPlays(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	remaining, err := p.facade.GetRemainingPlays(ctx, str(in, "user"), str(in, "game"))
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(map[string]any{"game_type": str(in, "game"), "remaining": remaining})
}

func (p *RewardsService) ListChannels(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return p.reply(map[string]any{"channels": p.facade.ListChannels()})
}

// Заявка на вывод
func (p *RewardsService) SubmitRedemption(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, err := integer(in, "amount")
	if err != nil {
		return nil, err
	}
	req, err := p.facade.SubmitRedemption(ctx,
		str(in, "user"),
		str(in, "channel_id"),
		amount,
		str(in, "payout_details"),
		str(in, "idempotency_key"),
	)
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(req)
}

func (p *RewardsService) GetRedemption(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuid.Parse(str(in, "id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req, err := p.facade.GetRedemptionStatus(ctx, id)
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(req)
}

func (p *RewardsService) AdvanceRedemption(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuid.Parse(str(in, "id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req, err := p.facade.AdvanceRedemption(ctx, id, models.AdvanceInput{
		State:     models.RedemptionState(str(in, "state")),
		Reference: str(in, "reference"),
		Reason:    str(in, "reason"),
	})
	if err != nil {
		return nil, p.status(err)
	}
	return p.reply(req)
}

func (p *RewardsService) reply(v any) (*structpb.Struct, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(j, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (p *RewardsService) status(err error) error {
	code := Code(err)
	if code == codes.Internal || code == codes.Unavailable {
		p.logger.Error("grpc", zap.Error(err))
	}
	return status.Error(code, err.Error())
}

// Код gRPC по ошибке домена
func Code(err error) codes.Code {
	switch {
	case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInvalidPayoutDetails):
		return codes.InvalidArgument
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownGameType), errors.Is(err, models.ErrUnknownChannel):
		return codes.NotFound
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrNotReversible), errors.Is(err, models.ErrAccountArchived):
		return codes.FailedPrecondition
	case errors.Is(err, models.ErrInsufficientBalance), errors.Is(err, models.ErrBelowMinimum):
		return codes.FailedPrecondition
	case errors.Is(err, models.ErrQuotaExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, models.ErrTransient):
		return codes.Unavailable
	}
	return codes.Internal
}

func str(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// float64 точно представляет целые только до 2^53
const maxExactInt = 1 << 53

func integer(in *structpb.Struct, name string) (int64, error) {
	v, ok := in.GetFields()[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	n := v.NumberValue
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > maxExactInt {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer, got %v", name, n)
	}
	return int64(n), nil
}
