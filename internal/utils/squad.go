package utils

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

func GetSquadID(ctx *gin.Context) (uint, error) {
	squadIDStr := ctx.Param("squad_id")

	if squadIDStr == "" {
		return 0, errors.New("Squad ID not found")
	}

	squadID, err := strconv.ParseUint(squadIDStr, 10, 32)

	if err != nil {
		return 0, errors.New("Invalid Squad ID")
	}

	return uint(squadID), nil
}
