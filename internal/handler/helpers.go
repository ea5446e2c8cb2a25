package handler

import (
	"net/http"
	"reflect"
	"strconv"

	"pettycash/internal/apierror"
	"pettycash/internal/middleware"
	"pettycash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// decimal.Decimal is validated as a number so min=0 / gt=0 work on money.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds the JSON body and runs the validator tags. On
// failure it writes the response and returns false.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewFields(fields))
		return false
	}
	return true
}

// respondError hands err to middleware.ErrorHandler, which picks the status.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
}

// callerFrom builds the service caller from the verified JWT claims.
func callerFrom(c *gin.Context) service.Caller {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return service.Caller{}
	}
	uid, _ := uuid.Parse(claims.UserID)
	return service.Caller{UserID: uid, Role: claims.Role}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func registerParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("register"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, apierror.New("register must be a positive number"))
		return 0, false
	}
	return n, true
}

// idempotencyKey prefers the body field, then the Idempotency-Key header.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("Idempotency-Key")
}
