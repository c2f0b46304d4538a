package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"event-whatsapp/internal/models"
	"event-whatsapp/internal/storage"
)

func startCLI(ctx context.Context, store *storage.Storage, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Println("\nCommands:")
		fmt.Println("  1. View registrations")
		fmt.Println("  2. View registrations by status")
		fmt.Println("  3. Exit")
		fmt.Print("\nEnter command (1-3): ")

		if !scanner.Scan() {
			return
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			viewRegistrations(ctx, scanner, store, nil)
		case "2":
			status, ok := readStatus(scanner)
			if ok {
				viewRegistrations(ctx, scanner, store, &status)
			}
		case "3":
			fmt.Println("Exiting...")
			stop()
			return
		default:
			fmt.Println("Invalid command. Please try again.")
		}
	}
}

func readStatus(scanner *bufio.Scanner) (models.RSVPStatus, bool) {
	fmt.Println("\nSelect status:")
	fmt.Println("  1. No answer yet")
	fmt.Println("  2. Yes")
	fmt.Println("  3. No")
	fmt.Println("  4. Maybe")
	fmt.Print("Enter choice (1-4): ")

	if !scanner.Scan() {
		return "", false
	}
	switch strings.TrimSpace(scanner.Text()) {
	case "1":
		return models.RSVPUnset, true
	case "2":
		return models.RSVPYes, true
	case "3":
		return models.RSVPNo, true
	case "4":
		return models.RSVPMaybe, true
	}
	fmt.Println("Invalid choice.")
	return "", false
}

func viewRegistrations(ctx context.Context, scanner *bufio.Scanner, store *storage.Storage, status *models.RSVPStatus) {
	fmt.Print("Event id (empty for all events): ")
	if !scanner.Scan() {
		return
	}

	regs, err := store.ListRegistrations(ctx, storage.RegistrationFilter{
		EventID: strings.TrimSpace(scanner.Text()),
		Status:  status,
	})
	if err != nil {
		fmt.Printf("❌ Error listing registrations: %v\n", err)
		return
	}
	if len(regs) == 0 {
		fmt.Println("\nNo registrations found.")
		return
	}

	fmt.Printf("\n📋 Registrations (%d total):\n", len(regs))
	fmt.Println(strings.Repeat("-", 60))
	for _, r := range regs {
		fmt.Printf("Registration: %s\n", r.ID)
		fmt.Printf("Event: %s\n", r.EventID)
		fmt.Printf("Guest: %s\n", r.GuestID)
		fmt.Printf("Status: %s\n", displayStatus(r.RSVPStatus))
		if r.RespondedOn != nil {
			fmt.Printf("Responded: %s\n", r.RespondedOn.Format("2006-01-02 15:04:05"))
		}
		fmt.Println(strings.Repeat("-", 60))
	}
}

func displayStatus(s models.RSVPStatus) string {
	if s == models.RSVPUnset {
		return "no answer"
	}
	return string(s)
}
