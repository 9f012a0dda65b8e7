package conversa

// ModuleOption represents a registration action within a module.
type ModuleOption func(*Collection) error

// NewModule creates a new module with the given name and builders.
// Modules are a way to group related binding registrations together.
//
// Example:
//
//	var StoreModule = conversa.NewModule("store",
//	    conversa.Register(conversa.NewBinding[*Database](newDatabase, conversa.InScope(conversa.Singleton))),
//	    conversa.Register(conversa.NewBinding[*Basket](newBasket, conversa.InScope(conversa.Conversation))),
//	)
//
//	var AppModule = conversa.NewModule("app",
//	    StoreModule,
//	    conversa.Register(conversa.NewBinding[*Checkout](newCheckout)),
//	)
func NewModule(name string, builders ...ModuleOption) ModuleOption {
	return func(c *Collection) error {
		// Execute all builders in order
		for _, builder := range builders {
			if builder == nil {
				continue
			}

			if err := builder(c); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}

		return nil
	}
}

// Register creates a ModuleOption that adds a binding to the collection.
func Register(b *Binding) ModuleOption {
	return func(c *Collection) error {
		return c.Add(b)
	}
}
