package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/orders"
)

// Суммы передаются в минимальных единицах валюты (копейки, центы).

type addressDTO struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	PhoneNumber string `json:"phone_number"`
	Zip         string `json:"zip"`
	Country     string `json:"country"`
}

type orderLineDTO struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// orderOwnerDTO — владелец заказа в ответах администратору.
type orderOwnerDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type orderDTO struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	User          *orderOwnerDTO `json:"user,omitempty"`
	Items         []orderLineDTO `json:"items"`
	TotalAmount   int64          `json:"total_amount"`
	Status        string         `json:"status"`
	StockReserved bool           `json:"stock_reserved"`
	Address       *addressDTO    `json:"address,omitempty"`
	Rating        int            `json:"rating,omitempty"`
	Review        string         `json:"review,omitempty"`
	RatedAt       *time.Time     `json:"rated_at,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Address *addressDTO `json:"address"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type rateRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

type stockLineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type timelineEventDTO struct {
	Type       string         `json:"type"`
	Reason     string         `json:"reason"`
	Lines      []stockLineDTO `json:"lines,omitempty"`
	Units      int            `json:"units,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type productDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Price         int64     `json:"price"`
	OriginalPrice int64     `json:"original_price,omitempty"`
	SalePrice     int64     `json:"sale_price,omitempty"`
	IsSale        bool      `json:"is_sale"`
	Stock         int       `json:"stock"`
	Image         string    `json:"image,omitempty"`
	Description   string    `json:"description,omitempty"`
	IsEcoFriendly bool      `json:"is_eco_friendly"`
	IsNew         bool      `json:"is_new"`
	InStock       bool      `json:"in_stock"`
	IsVisible     bool      `json:"is_visible"`
	Rating        float64   `json:"rating"`
	Reviews       int       `json:"reviews"`
	Tags          []string  `json:"tags"`
	Features      []string  `json:"features"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// productRequest используется и для создания, и для частичного обновления.
type productRequest struct {
	Name          *string   `json:"name"`
	Category      *string   `json:"category"`
	Price         *int64    `json:"price"`
	OriginalPrice *int64    `json:"original_price"`
	SalePrice     *int64    `json:"sale_price"`
	IsSale        *bool     `json:"is_sale"`
	Stock         *int      `json:"stock"`
	Image         *string   `json:"image"`
	Description   *string   `json:"description"`
	IsEcoFriendly *bool     `json:"is_eco_friendly"`
	IsNew         *bool     `json:"is_new"`
	InStock       *bool     `json:"in_stock"`
	IsVisible     *bool     `json:"is_visible"`
	Rating        *float64  `json:"rating"`
	Reviews       *int      `json:"reviews"`
	Tags          *[]string `json:"tags"`
	Features      *[]string `json:"features"`
	Version       *int64    `json:"version"`
}

type userDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type userPatchRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

type deletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func toOrderDTO(o domain.Order) orderDTO {
	dto := orderDTO{
		ID:            o.ID,
		UserID:        o.UserID,
		Items:         make([]orderLineDTO, 0, len(o.Lines)),
		TotalAmount:   o.TotalMinor,
		Status:        string(o.Status),
		StockReserved: o.StockReserved,
		Rating:        o.Rating,
		Review:        o.Review,
		RatedAt:       o.RatedAt,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, line := range o.Lines {
		dto.Items = append(dto.Items, orderLineDTO{
			ProductID: line.ProductID,
			Name:      line.Name,
			Image:     line.Image,
			Quantity:  line.Quantity,
			Price:     line.PriceMinor,
		})
	}
	if o.Address != nil {
		dto.Address = &addressDTO{
			Street:      o.Address.Street,
			City:        o.Address.City,
			PhoneNumber: o.Address.PhoneNumber,
			Zip:         o.Address.Zip,
			Country:     o.Address.Country,
		}
	}
	return dto
}

func toOrderDTOs(list []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderDTO(o))
	}
	return out
}

func (r createOrderRequest) toInput() orders.CreateOrderInput {
	in := orders.CreateOrderInput{Lines: make([]orders.LineInput, 0, len(r.Items))}
	for _, item := range r.Items {
		in.Lines = append(in.Lines, orders.LineInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if r.Address != nil {
		in.Address = &domain.Address{
			Street:      r.Address.Street,
			City:        r.Address.City,
			PhoneNumber: r.Address.PhoneNumber,
			Zip:         r.Address.Zip,
			Country:     r.Address.Country,
		}
	}
	return in
}

func toTimelineDTOs(events []domain.TimelineEvent) []timelineEventDTO {
	out := make([]timelineEventDTO, 0, len(events))
	for _, ev := range events {
		dto := timelineEventDTO{Type: ev.Type, Reason: ev.Reason, Units: ev.StockDelta(), OccurredAt: ev.Occurred}
		for _, line := range ev.Lines {
			dto.Lines = append(dto.Lines, stockLineDTO{ProductID: line.ProductID, Quantity: line.Quantity})
		}
		out = append(out, dto)
	}
	return out
}

func toProductDTO(p domain.Product) productDTO {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return productDTO{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.PriceMinor,
		OriginalPrice: p.OriginalPriceMinor,
		SalePrice:     p.SalePriceMinor,
		IsSale:        p.IsSale,
		Stock:         p.Stock,
		Image:         p.Image,
		Description:   p.Description,
		IsEcoFriendly: p.IsEcoFriendly,
		IsNew:         p.IsNew,
		InStock:       p.InStock,
		IsVisible:     p.IsVisible,
		Rating:        p.Rating,
		Reviews:       p.Reviews,
		Tags:          tags,
		Features:      features,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toProductDTOs(list []domain.Product) []productDTO {
	out := make([]productDTO, 0, len(list))
	for _, p := range list {
		out = append(out, toProductDTO(p))
	}
	return out
}

func (r productRequest) toPatch() catalog.ProductPatch {
	return catalog.ProductPatch{
		Name:               r.Name,
		Category:           r.Category,
		PriceMinor:         r.Price,
		OriginalPriceMinor: r.OriginalPrice,
		SalePriceMinor:     r.SalePrice,
		IsSale:             r.IsSale,
		Stock:              r.Stock,
		Image:              r.Image,
		Description:        r.Description,
		IsEcoFriendly:      r.IsEcoFriendly,
		IsNew:              r.IsNew,
		InStock:            r.InStock,
		IsVisible:          r.IsVisible,
		Rating:             r.Rating,
		Reviews:            r.Reviews,
		Tags:               r.Tags,
		Features:           r.Features,
		ExpectedVersion:    r.Version,
	}
}

func toUserDTO(u domain.User) userDTO {
	return userDTO{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		Version:   u.Version,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toUserDTOs(list []domain.User) []userDTO {
	out := make([]userDTO, 0, len(list))
	for _, u := range list {
		out = append(out, toUserDTO(u))
	}
	return out
}

func (r registerRequest) toInput() accounts.RegisterInput {
	return accounts.RegisterInput{Name: r.Name, Email: r.Email, Role: r.Role}
}

func (r userPatchRequest) toPatch() accounts.UserPatch {
	return accounts.UserPatch{Name: r.Name, Email: r.Email, Role: r.Role}
}
