package main

import (
	"strings"

	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/messaging"
	"github.com/sokolink/sokolink/internal/models"
)

// expiredNotice is sent by the sweeper when an abandoned session lapses.
const expiredNotice = "Your previous session timed out. Send any message to start again."

// stepPrompts is the default English copy for each flow step. The
// engine only emits flow/step identifiers; all wording lives here.
var stepPrompts = map[models.FlowID]map[models.StepID]string{
	models.FlowMainMenu: {
		flows.StepMenu: "Welcome to SokoLink! Reply with a number:\n" +
			"1. Post an offer\n2. Request a product\n3. Record an agreement\n" +
			"4. Fish alerts\n5. Post a gig\n6. Flash deals\n" +
			"(Send 'menu' anytime to come back here, 'resume' to continue something you paused.)",
	},
	models.FlowRegistration: {
		flows.StepAskName:     "Karibu! What's your name?",
		flows.StepAskHomeArea: "Share your home area as a location pin, or reply 'skip'.",
		flows.StepAskRole:     "Are you mostly a:\n1. Buyer\n2. Seller\n3. Fisher",
	},
	models.FlowAgreement: {
		flows.StepAskDirection: "Is this money you are:\n1. Giving\n2. Receiving",
		flows.StepAskAmount:    "How much? (e.g. 5000)",
		flows.StepReview:       "Reply 'confirm' to record this agreement, or 'back' to change the amount.",
	},
	models.FlowOfferPost: {
		flows.StepOfferTitle:    "What are you selling? Give it a short title.",
		flows.StepOfferPrice:    "What's the price? (e.g. 1500)",
		flows.StepOfferPhoto:    "Send a photo of the item, or reply 'skip'.",
		flows.StepOfferLocation: "Share your pickup location as a pin, or reply 'skip'.",
		flows.StepOfferReview:   "Reply 'confirm' to publish your offer, or 'back' to change the location.",
	},
	models.FlowProductRequest: {
		flows.StepRequestItem:   "What are you looking for?",
		flows.StepRequestBudget: "What's your budget? Reply 'skip' if you're not sure.",
	},
	models.FlowFishAlert: {
		flows.StepAlertSpecies: "Which fish do you want alerts for? You can list several:\n" +
			"1. Tilapia\n2. Nile perch\n3. Omena\n4. Catfish\n5. Mudfish",
		flows.StepAlertFreq: "How often?\n1. Instant\n2. Daily\n3. Weekly",
		flows.StepAlertSite: "Share the landing site as a location pin.",
	},
	models.FlowGigPost: {
		flows.StepGigDescription: "Describe the gig you're posting.",
		flows.StepGigPay:         "What does it pay? (e.g. 800)",
		flows.StepGigDeadline:    "Any deadline? Reply with a date, or 'skip'.",
		flows.StepGigReview:      "Reply 'confirm' to post this gig, or 'back' to change the deadline.",
	},
	models.FlowFlashDeal: {
		flows.StepDealPick:    "Today's flash deals:\n1. Deal A\n2. Deal B\n3. Deal C\nWhich one?",
		flows.StepDealConfirm: "Claim this deal now? Reply 'yes' or 'no'. (This reserves it, so please answer before doing anything else.)",
	},
}

// completionNotes is the copy for flows reaching their terminal step.
var completionNotes = map[models.FlowID]string{
	models.FlowRegistration:   "You're registered! Send 'menu' to see what you can do.",
	models.FlowAgreement:      "Agreement recorded. Both sides will get a copy.",
	models.FlowOfferPost:      "Your offer is live!",
	models.FlowProductRequest: "Request posted. We'll connect you with sellers.",
	models.FlowFishAlert:      "You're subscribed to fish alerts.",
	models.FlowGigPost:        "Your gig is posted.",
	models.FlowFlashDeal:      "Deal claimed! Show this chat at pickup.",
}

// reasonNotes prefixes re-prompts with an explanation where one helps.
var reasonNotes = map[string]string{
	models.ReasonTypeMismatch: "That's not quite what I expected here.",
	models.ReasonBusy:         "Please finish this step first.",
	models.ReasonExpired:      "Your previous session timed out, so we're starting fresh.",
	models.ReasonNothingToDo:  "There's nothing paused to go back to.",
	models.ReasonAuthRequired: "You need to register first - it only takes a minute.",
	models.ReasonInternal:     "Something went wrong on our side, let's pick up from here.",
}

// defaultRenderer turns engine instructions into the default English copy.
func defaultRenderer() messaging.Renderer {
	return messaging.RenderFunc(func(instr models.OutboundInstruction) string {
		var parts []string

		switch instr.Kind {
		case models.InstructionTerminate:
			if note, ok := completionNotes[instr.Flow]; ok && instr.Reason == "" {
				return note
			}
			return "Okay, cancelled. Send 'menu' to start something else."

		case models.InstructionError:
			return "Sorry, something went wrong. Please try that again."
		}

		if note, ok := reasonNotes[instr.Reason]; ok {
			parts = append(parts, note)
		}
		if prompt, ok := stepPrompts[instr.Flow][instr.Step]; ok {
			parts = append(parts, prompt)
		}
		if len(parts) == 0 {
			return "Sorry, I didn't get that. Send 'menu' for options."
		}
		return strings.Join(parts, "\n\n")
	})
}
