// Package shell is the interactive line front end of the storefront.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"storefront/services"
	"storefront/views"
)

const prompt = "storefront> "

const helpText = `Commands:
  login <email> <password>   log in
  logout                     end the session
  products                   reload the product list
  add <product-id> <qty>     add units of a product to the cart
  cart                       show the cart
  checkout                   place an order with the whole cart
  orders                     show your orders
  order <id>                 show one order
  back                       return to the order form
  whoami                     show the session
  help                       show this help
  quit                       leave the shell`

// Shell reads one command per line and prints the outcome.
type Shell struct {
	storefront services.StorefrontService
	in         io.Reader
	out        io.Writer
}

func New(svc services.StorefrontService, in io.Reader, out io.Writer) *Shell {
	return &Shell{storefront: svc, in: in, out: out}
}

// Run processes commands until quit, EOF or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		s.Exec(ctx, fields[0], fields[1:])
	}
}

// Exec runs one command.
func (s *Shell) Exec(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "login":
		if len(args) != 2 {
			s.usage("login <email> <password>")
			return
		}
		res, err := s.storefront.Login(ctx, args[0], args[1])
		if err != nil {
			s.fail(err)
			return
		}
		fmt.Fprintf(s.out, "Logged in user: %s\n", res.Email)
		s.printProducts(res.Products)

	case "logout":
		s.storefront.Logout()
		fmt.Fprintln(s.out, "Logged out.")

	case "products":
		view, err := s.storefront.LoadProducts(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		s.printProducts(view)

	case "add":
		if len(args) != 2 {
			s.usage("add <product-id> <qty>")
			return
		}
		id, _ := strconv.Atoi(args[0])
		qty, _ := strconv.Atoi(args[1])
		res, err := s.storefront.AddToCart(id, qty)
		if err != nil {
			s.fail(err)
			return
		}
		fmt.Fprintf(s.out, "Added. %s\n", res.Product.Label)
		s.printCart(res.Cart)

	case "cart":
		s.printCart(s.storefront.Cart())

	case "checkout":
		res, err := s.storefront.Checkout(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		fmt.Fprintln(s.out, res.Message)
		s.printProducts(res.Products)

	case "orders":
		view, err := s.storefront.LoadOrders(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		if view.Message != "" {
			fmt.Fprintln(s.out, view.Message)
		}
		for _, o := range view.Orders {
			fmt.Fprintln(s.out, o.Text())
			fmt.Fprintln(s.out)
		}

	case "order":
		if len(args) != 1 {
			s.usage("order <id>")
			return
		}
		id, _ := strconv.Atoi(args[0])
		view, err := s.storefront.GetOrder(ctx, id)
		if err != nil {
			s.fail(err)
			return
		}
		fmt.Fprintln(s.out, view.Text())

	case "back":
		if err := s.storefront.ShowOrderForm(); err != nil {
			s.fail(err)
			return
		}
		s.printProducts(services.ProductsView{Options: s.storefront.State().Products})

	case "whoami":
		st := s.storefront.State()
		if !st.LoggedIn {
			fmt.Fprintln(s.out, "Not logged in.")
			return
		}
		fmt.Fprintln(s.out, st.Messages.UserInfo)
		if st.TokenExpiresAt != nil {
			fmt.Fprintf(s.out, "Token expires at %s\n", st.TokenExpiresAt.Format("15:04:05"))
		}

	case "help":
		fmt.Fprintln(s.out, helpText)

	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type help.\n", cmd)
	}
}

func (s *Shell) printProducts(view services.ProductsView) {
	if view.Message != "" {
		fmt.Fprintln(s.out, view.Message)
	}
	for _, o := range view.Options {
		fmt.Fprintf(s.out, "  [%d] %s\n", o.ID, o.Label)
	}
}

func (s *Shell) printCart(cart views.CartView) {
	if cart.Items == 0 {
		fmt.Fprintln(s.out, "The cart is empty.")
		return
	}
	for _, l := range cart.Lines {
		if l.Bold {
			fmt.Fprintln(s.out, l.Text)
			continue
		}
		fmt.Fprintln(s.out, "  "+l.Text)
	}
}

func (s *Shell) usage(u string) {
	fmt.Fprintf(s.out, "Usage: %s\n", u)
}

func (s *Shell) fail(err error) {
	fmt.Fprintf(s.out, "Error: %s\n", err)
}
