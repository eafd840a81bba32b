package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sfoufcat/slimcircle/db"
	"github.com/sfoufcat/slimcircle/internal/models"
	"github.com/sfoufcat/slimcircle/internal/types"
	"github.com/sfoufcat/slimcircle/internal/utils"
	"gorm.io/gorm"
)

type CreateSquadRequest struct {
	Name string `json:"name" binding:"required"`
}

type JoinSquadRequest struct {
	InviteCode string `json:"invite_code" binding:"required"`
}

type UpdateNotifyConfigRequest struct {
	ChatWebhookURL string `json:"chat_webhook_url"`
	EmailReminders bool   `json:"email_reminders"`
}

type SquadResponse struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Tier       string `json:"tier"`
	InviteCode string `json:"invite_code"`
	OwnerID    uint   `json:"owner_id"`
}

type SquadMemberResponse struct {
	UserID uint   `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func squadResponse(squad models.Squad) SquadResponse {
	return SquadResponse{
		ID:         squad.ID,
		Name:       squad.Name,
		Tier:       squad.Tier,
		InviteCode: squad.InviteCode,
		OwnerID:    squad.OwnerID,
	}
}

func CreateSquad(ctx *gin.Context) {
	var body CreateSquadRequest

	if err := ctx.BindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squad := models.Squad{
		Name:       body.Name,
		Tier:       models.SquadTierStandard,
		InviteCode: uuid.NewString(),
		OwnerID:    userID,
	}

	err = db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&squad).Error; err != nil {
			return err
		}

		membership := models.SquadMembership{
			UserID:  userID,
			SquadID: squad.ID,
			Role:    "member",
		}

		return tx.Create(&membership).Error
	})

	if err != nil {
		log.Printf("Failed to create squad: %v", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create squad"})
		return
	}

	ctx.JSON(http.StatusCreated, squadResponse(squad))
}

func JoinSquad(ctx *gin.Context) {
	var body JoinSquadRequest

	if err := ctx.BindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var squad models.Squad

	if err := db.DB.Where("invite_code = ?", body.InviteCode).First(&squad).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Invalid invite code"})
		} else {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve squad"})
		}
		return
	}

	var existing models.SquadMembership

	err = db.DB.Where("squad_id = ? AND user_id = ?", squad.ID, userID).First(&existing).Error

	if err == nil {
		ctx.JSON(http.StatusOK, squadResponse(squad))
		return
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
		return
	}

	membership := models.SquadMembership{
		UserID:  userID,
		SquadID: squad.ID,
		Role:    "member",
	}

	if err := db.DB.Create(&membership).Error; err != nil {
		log.Printf("Failed to join squad: %v", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join squad"})
		return
	}

	ctx.JSON(http.StatusCreated, squadResponse(squad))
}

func ListSquads(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var memberships []models.SquadMembership

	if err := db.DB.Preload("Squad").Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve squads"})
		return
	}

	response := make([]SquadResponse, 0, len(memberships))

	for _, membership := range memberships {
		response = append(response, squadResponse(membership.Squad))
	}

	ctx.JSON(http.StatusOK, response)
}

func ListSquadMembers(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !isSquadMember(squadID, userID) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this squad"})
		return
	}

	var memberships []models.SquadMembership

	if err := db.DB.Preload("User").Where("squad_id = ?", squadID).Find(&memberships).Error; err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve members"})
		return
	}

	response := make([]SquadMemberResponse, 0, len(memberships))

	for _, membership := range memberships {
		response = append(response, SquadMemberResponse{
			UserID: membership.UserID,
			Name:   membership.User.Name,
			Role:   membership.Role,
		})
	}

	ctx.JSON(http.StatusOK, response)
}

func LeaveSquad(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var membership models.SquadMembership

	if err := db.DB.Where("squad_id = ? AND user_id = ?", squadID, userID).First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
		} else {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve membership"})
		}
		return
	}

	if err := db.DB.Delete(&membership).Error; err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave squad"})
		return
	}

	ctx.Status(http.StatusNoContent)
}

func UpdateSquadNotifyConfig(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body UpdateNotifyConfigRequest

	if err := ctx.BindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var squad models.Squad

	if err := db.DB.Where("id = ? AND owner_id = ?", squadID, userID).First(&squad).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Squad not found"})
		} else {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve squad"})
		}
		return
	}

	configJSON, err := json.Marshal(types.NotifyConfig{
		ChatWebhookURL: body.ChatWebhookURL,
		EmailReminders: body.EmailReminders,
	})

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config format"})
		return
	}

	if err := db.DB.Model(&squad).Update("notify_config", configJSON).Error; err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update squad"})
		return
	}

	ctx.JSON(http.StatusOK, squadResponse(squad))
}

func isSquadMember(squadID, userID uint) bool {
	var membership models.SquadMembership

	err := db.DB.Where("squad_id = ? AND user_id = ?", squadID, userID).First(&membership).Error

	return err == nil
}
