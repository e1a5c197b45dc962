package cmd

import (
	"fmt"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jghoshh/tandem/frontend/client"
	"github.com/jghoshh/tandem/lib/utils"
)

// guestCommands is a slice of Command structures containing commands that are available to users who have not signed in.
var guestCommands []Command

// userCommands is a slice of Command structures containing commands that are available only to signed-in users.
var userCommands []Command

// commonCommands is a slice of Command structures containing commands that are available to all users, regardless of their sign-in status.
var commonCommands []Command

// loggedIn is a boolean variable that indicates whether a user is currently signed in.
var loggedIn bool

// shell represents an instance of the interactive shell used for this application.
var shell *ishell.Shell

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                  // Name is the name of the command.
	Desc string                  // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// readRequired prompts until the user enters a non-empty line.
func readRequired(c *ishell.Context, prompt string) string {
	for {
		c.Print(prompt)
		value := strings.TrimSpace(c.ReadLine())
		if value != "" {
			return value
		}
		c.Println("A value is required.")
	}
}

// readPositiveInt prompts until the user enters a positive integer.
func readPositiveInt(c *ishell.Context, prompt string) int {
	for {
		c.Print(prompt)
		value, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil && value > 0 {
			return value
		}
		c.Println("Please enter a positive number.")
	}
}

// readChoice prompts until the user enters one of the given options.
func readChoice(c *ishell.Context, prompt string, options ...string) string {
	for {
		c.Print(prompt + " (" + strings.Join(options, "/") + "): ")
		value := strings.TrimSpace(c.ReadLine())
		for _, option := range options {
			if value == option {
				return value
			}
		}
		c.Println("Please enter one of: " + strings.Join(options, ", "))
	}
}

// enterSignedIn swaps the guest command set for the user command set.
func enterSignedIn() {
	loggedIn = true
	for _, command := range guestCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, userCommands)
}

// InitCmd initializes the shell and sets up the commands for guest and
// signed-in scenarios.
func InitCmd() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available to a guest user (not signed in)
	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var email string
				for {
					c.Print("Enter Email: ")
					email = strings.TrimSpace(c.ReadLine())
					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				user, err := client.SignIn(email)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Welcome back, %s. You are now signed in.\n", user.DisplayName)
				enterSignedIn()
			},
		},
		{
			Name: "register",
			Desc: "Create a new account",
			Func: func(c *ishell.Context) {
				var email string
				for {
					c.Print("Enter Email: ")
					email = strings.TrimSpace(c.ReadLine())
					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}
				displayName := readRequired(c, "Enter Display Name: ")
				role := readChoice(c, "Pick your household slot", "partner_a", "partner_b")

				user, err := client.Register(email, displayName, role)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Account created. Welcome, %s!\n", user.DisplayName)
				c.Println("Use 'pair' to form a household with your partner.")
				enterSignedIn()
			},
		},
	}

	// Define the commands available to a signed-in user
	userCommands = []Command{
		{
			Name: "me",
			Desc: "Show your profile and point balance",
			Func: func(c *ishell.Context) {
				user, err := client.Me()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("%s <%s>\n", user.DisplayName, user.Email)
				c.Printf("Points: %d\n", user.Points)
			},
		},
		{
			Name: "pair",
			Desc: "Form a household with your partner",
			Func: func(c *ishell.Context) {
				partnerEmail := readRequired(c, "Enter your partner's email: ")
				_, err := client.CreateHousehold(partnerEmail)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Household created. You're in this together now.")
			},
		},
		{
			Name: "household",
			Desc: "Show your household and both balances",
			Func: func(c *ishell.Context) {
				info, err := client.MyHousehold()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				for _, member := range info.Members {
					c.Printf("  %s <%s> -- %d points\n", member.DisplayName, member.Email, member.Points)
				}
			},
		},
		{
			Name: "addhabit",
			Desc: "Create a habit",
			Func: func(c *ishell.Context) {
				input := client.HabitInput{
					Title:     readRequired(c, "Title: "),
					Frequency: readChoice(c, "Frequency", "daily", "weekly"),
					Points:    0,
					Condition: "",
				}
				c.Print("Description (optional): ")
				input.Description = strings.TrimSpace(c.ReadLine())
				if input.Frequency == "weekly" {
					for {
						c.Print("Weekday (0=Sunday .. 6=Saturday): ")
						weekday, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
						if err == nil && weekday >= 0 && weekday <= 6 {
							input.Weekday = &weekday
							break
						}
						c.Println("Please enter a number between 0 and 6.")
					}
				}
				input.Points = readPositiveInt(c, "Points per completion: ")
				input.Condition = readChoice(c, "Who has to do it", "both", "either")

				habit, err := client.CreateHabit(input)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Habit %q created (%s).\n", habit.Title, habit.ID.Hex())
			},
		},
		{
			Name: "habits",
			Desc: "List your household's active habits",
			Func: func(c *ishell.Context) {
				habits, err := client.Habits()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if len(habits) == 0 {
					c.Println("No active habits yet. Use 'addhabit' to create one.")
					return
				}
				for _, habit := range habits {
					c.Printf("  %s  %q -- %s/%s, %d pts\n",
						habit.ID.Hex(), habit.Title, habit.Frequency, habit.Condition, habit.Points)
				}
			},
		},
		{
			Name: "removehabit",
			Desc: "Deactivate a habit",
			Func: func(c *ishell.Context) {
				habitID := readRequired(c, "Habit id: ")
				if err := client.DeactivateHabit(habitID); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Habit deactivated. Its history is kept.")
			},
		},
		{
			Name: "done",
			Desc: "Mark a habit done for today",
			Func: func(c *ishell.Context) {
				habitID := readRequired(c, "Habit id: ")
				result, err := client.CompleteHabit(habitID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				switch {
				case result.FirstOfPair:
					c.Println("Recorded! Waiting on your partner to finish the day.")
				case result.Satisfied:
					c.Printf("Done! +%d points. Streak: %d day(s).\n", result.Points, result.Streak)
				default:
					c.Println("Recorded.")
				}
			},
		},
		{
			Name: "undo",
			Desc: "Remove today's completion of a habit",
			Func: func(c *ishell.Context) {
				habitID := readRequired(c, "Habit id: ")
				reversal, err := client.UncompleteHabit(habitID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if !reversal.Removed {
					c.Println("Nothing to undo for today.")
					return
				}
				if len(reversal.Refund) > 0 {
					c.Printf("Completion removed; %d point(s) taken back per awarded partner.\n", reversal.Points)
				} else {
					c.Println("Completion removed.")
				}
			},
		},
		{
			Name: "today",
			Desc: "Show today's habits and their state",
			Func: func(c *ishell.Context) {
				statuses, err := client.Today()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if len(statuses) == 0 {
					c.Println("Nothing scheduled today.")
					return
				}
				for _, status := range statuses {
					mark := " "
					if status.Satisfied {
						mark = "x"
					}
					c.Printf("  [%s] %q (%s) -- streak %d, %d/%d done\n",
						mark, status.Habit.Title, status.Habit.Condition,
						status.Streak, len(status.CompletedBy), 2)
				}
			},
		},
		{
			Name: "streak",
			Desc: "Show a habit's current streak",
			Func: func(c *ishell.Context) {
				habitID := readRequired(c, "Habit id: ")
				info, err := client.Streak(habitID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Current streak: %d day(s) (scanned up to %d days back).\n", info.Streak, info.WindowDays)
			},
		},
		{
			Name: "stats",
			Desc: "Show your household's completion stats",
			Func: func(c *ishell.Context) {
				stats, err := client.Stats()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Weekly completion rate:  %.0f%%\n", stats.WeeklyCompletionRate*100)
				c.Printf("Monthly completion rate: %.0f%%\n", stats.MonthlyCompletionRate*100)
				c.Printf("Current streak: %d day(s)\n", stats.CurrentStreak)
				c.Printf("Longest streak: %d day(s)\n", stats.LongestStreak)
			},
		},
		{
			Name: "addreward",
			Desc: "Create a reward",
			Func: func(c *ishell.Context) {
				input := client.RewardInput{
					Title: readRequired(c, "Title: "),
				}
				c.Print("Description (optional): ")
				input.Description = strings.TrimSpace(c.ReadLine())
				input.PointCost = readPositiveInt(c, "Point cost: ")
				input.PointType = readChoice(c, "Charged against", "individual", "combined")

				reward, err := client.CreateReward(input)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Reward %q created (%s).\n", reward.Title, reward.ID.Hex())
			},
		},
		{
			Name: "rewards",
			Desc: "List rewards (open, reserved or claimed)",
			Func: func(c *ishell.Context) {
				status := readChoice(c, "Which rewards", "open", "reserved", "claimed")
				rewards, err := client.Rewards(status)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if len(rewards) == 0 {
					c.Println("No " + status + " rewards.")
					return
				}
				for _, reward := range rewards {
					line := fmt.Sprintf("  %s  %q -- %d pts (%s)", reward.ID.Hex(), reward.Title, reward.PointCost, reward.PointType)
					if reward.IsReserved && !reward.Claimed() {
						line += " [reserved]"
					}
					c.Println(line)
				}
			},
		},
		{
			Name: "reserve",
			Desc: "Reserve a reward",
			Func: func(c *ishell.Context) {
				rewardID := readRequired(c, "Reward id: ")
				reward, err := client.ReserveReward(rewardID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Reward %q reserved.\n", reward.Title)
			},
		},
		{
			Name: "unreserve",
			Desc: "Cancel a reward reservation",
			Func: func(c *ishell.Context) {
				rewardID := readRequired(c, "Reward id: ")
				reward, err := client.UnreserveReward(rewardID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Reservation on %q cleared.\n", reward.Title)
			},
		},
		{
			Name: "claim",
			Desc: "Claim a reward",
			Func: func(c *ishell.Context) {
				rewardID := readRequired(c, "Reward id: ")
				result, err := client.ClaimReward(rewardID)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Claimed %q!\n", result.Reward.Title)
				if result.PartnerShare > 0 {
					c.Printf("You paid %d point(s); your partner paid %d.\n", result.UserShare, result.PartnerShare)
				} else {
					c.Printf("You paid %d point(s).\n", result.UserShare)
				}
			},
		},
		{
			Name: "notifications",
			Desc: "Show your notifications",
			Func: func(c *ishell.Context) {
				notifications, err := client.Notifications()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if len(notifications) == 0 {
					c.Println("No notifications.")
					return
				}
				for _, notification := range notifications {
					mark := "*"
					if notification.IsRead {
						mark = " "
					}
					c.Printf("  %s %s  %s\n", mark, notification.CreatedAt.Format("Jan 02 15:04"), notification.Message)
					if err := client.MarkNotificationRead(notification.ID.Hex()); err != nil {
						utils.PrintError(err.Error())
					}
				}
			},
		},
		{
			Name: "signout",
			Desc: "Sign out of your account",
			Func: func(c *ishell.Context) {
				if err := client.SignOut(); err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = false
				for _, command := range userCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, guestCommands)
				c.Println("Signed out. See you soon.")
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands is a helper function that adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds common and guest commands to the shell, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Tandem", "basic", true).Print()
	shell.Println("Welcome to Tandem -- the habit tracker for two. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, guestCommands)

	shell.Run()
}
