package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/core/service"
)

const fulfillmentServiceName = "fulfillment.v1.Fulfillment"

type CreateSaleRequest struct {
	SellerID     string `json:"seller_id"`
	ManagerID    string `json:"manager_id"`
	ProductID    string `json:"product_id"`
	SiteCode     string `json:"site_code"`
	Price        *int64 `json:"price,omitempty"`
	ShippingCode string `json:"shipping_code"`
	Evidence     []byte `json:"evidence,omitempty"`
}

type CreateSaleResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	SaleID   string `json:"sale_id,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

type MarkShippedRequest struct {
	SellerID string `json:"seller_id"`
	SaleID   string `json:"sale_id"`
}

type MarkShippedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type StockRequest struct {
	ProductID string `json:"product_id"`
}

type StockResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Code    string             `json:"code,omitempty"`
	Stock   *domain.StockLevel `json:"stock,omitempty"`
}

// FulfillmentServer is the RPC surface. Business failures travel in the
// response (Success=false, Code); the returned error is reserved for transport
// problems.
type FulfillmentServer interface {
	CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error)
	MarkShipped(ctx context.Context, req *MarkShippedRequest) (*MarkShippedResponse, error)
	Stock(ctx context.Context, req *StockRequest) (*StockResponse, error)
}

type GRPCHandler struct {
	fulfillment *service.FulfillmentService
	pool        *service.PoolManager
}

func NewGRPCHandler(fulfillment *service.FulfillmentService, pool *service.PoolManager) *GRPCHandler {
	return &GRPCHandler{fulfillment: fulfillment, pool: pool}
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	res, err := h.fulfillment.CreateSale(ctx, service.CreateSaleRequest{
		SellerID:     req.SellerID,
		ManagerID:    req.ManagerID,
		ProductID:    req.ProductID,
		SiteCode:     domain.SiteCode(req.SiteCode),
		Price:        req.Price,
		ShippingCode: req.ShippingCode,
		Evidence:     req.Evidence,
	})
	if err != nil {
		_, code, message := classify(err)
		resp := &CreateSaleResponse{Success: false, Message: message, Code: code}
		if res != nil && res.Committed {
			resp.SaleID = res.SaleID
		}
		return resp, nil
	}

	return &CreateSaleResponse{
		Success:  true,
		Message:  "sale created",
		SaleID:   res.SaleID,
		MediaURL: res.MediaURL,
	}, nil
}

func (h *GRPCHandler) MarkShipped(ctx context.Context, req *MarkShippedRequest) (*MarkShippedResponse, error) {
	if err := h.fulfillment.MarkShipped(ctx, req.SellerID, req.SaleID); err != nil {
		_, code, message := classify(err)
		return &MarkShippedResponse{Success: false, Message: message, Code: code}, nil
	}
	return &MarkShippedResponse{Success: true, Message: "marked as shipped"}, nil
}

func (h *GRPCHandler) Stock(ctx context.Context, req *StockRequest) (*StockResponse, error) {
	level, err := h.pool.Stock(ctx, req.ProductID)
	if err != nil {
		_, code, message := classify(err)
		return &StockResponse{Success: false, Message: message, Code: code}, nil
	}
	return &StockResponse{Success: true, Stock: &level}, nil
}

func unary[Req, Resp any](method string, call func(FulfillmentServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FulfillmentServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + fulfillmentServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FulfillmentServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var fulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: fulfillmentServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: unary("CreateSale", FulfillmentServer.CreateSale)},
		{MethodName: "MarkShipped", Handler: unary("MarkShipped", FulfillmentServer.MarkShipped)},
		{MethodName: "Stock", Handler: unary("Stock", FulfillmentServer.Stock)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&fulfillmentServiceDesc, srv)
}

// LoggingInterceptor logs every unary call with its duration and status.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		)
		return resp, err
	}
}

// FulfillmentClient calls a FulfillmentServer over a connection using the
// JSON codec.
type FulfillmentClient struct {
	cc grpc.ClientConnInterface
}

func NewFulfillmentClient(cc grpc.ClientConnInterface) *FulfillmentClient {
	return &FulfillmentClient{cc: cc}
}

func (c *FulfillmentClient) CreateSale(ctx context.Context, req *CreateSaleRequest, opts ...grpc.CallOption) (*CreateSaleResponse, error) {
	out := new(CreateSaleResponse)
	if err := c.invoke(ctx, "CreateSale", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) MarkShipped(ctx context.Context, req *MarkShippedRequest, opts ...grpc.CallOption) (*MarkShippedResponse, error) {
	out := new(MarkShippedResponse)
	if err := c.invoke(ctx, "MarkShipped", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) Stock(ctx context.Context, req *StockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	if err := c.invoke(ctx, "Stock", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+fulfillmentServiceName+"/"+method, in, out, opts...)
}
